package schema

import "testing"

func TestDerive(t *testing.T) {
	tests := []struct {
		sqlType ColumnType
		want    DerivedType
	}{
		{ColumnInteger, DerivedNumber},
		{ColumnBigint, DerivedNumber},
		{ColumnReal, DerivedNumber},
		{ColumnNumeric, DerivedNumber},
		{ColumnText, DerivedString},
		{ColumnBoolean, DerivedBoolean},
		{ColumnType("json"), DerivedUnknown},
		{ColumnType(""), DerivedUnknown},
	}

	for _, tt := range tests {
		if got := Derive(tt.sqlType); got != tt.want {
			t.Errorf("Derive(%q) = %q, want %q", tt.sqlType, got, tt.want)
		}
	}
}

func TestNewColumn(t *testing.T) {
	col := NewColumn("score", ColumnReal)

	if col.Name != "score" {
		t.Errorf("name = %q, want %q", col.Name, "score")
	}
	if col.SQLType != ColumnReal {
		t.Errorf("sql type = %q, want %q", col.SQLType, ColumnReal)
	}
	if col.Derived != DerivedNumber {
		t.Errorf("derived = %q, want %q", col.Derived, DerivedNumber)
	}
}

func TestColumnTypeValid(t *testing.T) {
	for _, valid := range []ColumnType{ColumnInteger, ColumnBigint, ColumnText, ColumnBoolean, ColumnReal, ColumnNumeric} {
		if !valid.Valid() {
			t.Errorf("%q should be valid", valid)
		}
	}
	for _, invalid := range []ColumnType{"", "blob", "json", "TEXT"} {
		if invalid.Valid() {
			t.Errorf("%q should be invalid", invalid)
		}
	}
}

func TestColumnTypeSQL(t *testing.T) {
	tests := []struct {
		t    ColumnType
		want string
	}{
		{ColumnInteger, "INTEGER"},
		{ColumnBigint, "BIGINT"},
		{ColumnText, "TEXT"},
		{ColumnBoolean, "BOOLEAN"},
		{ColumnReal, "REAL"},
		{ColumnNumeric, "NUMERIC"},
	}

	for _, tt := range tests {
		if got := tt.t.SQL(); got != tt.want {
			t.Errorf("%q.SQL() = %q, want %q", tt.t, got, tt.want)
		}
	}
}

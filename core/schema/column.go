// Package schema defines the declarative types for persistent entities:
// column metadata, entity definitions, and the YAML parser for entity
// definition files.
package schema

// ColumnType is the storage type of a declared column.
type ColumnType string

const (
	ColumnInteger ColumnType = "integer"
	ColumnBigint  ColumnType = "bigint"
	ColumnText    ColumnType = "text"
	ColumnBoolean ColumnType = "boolean"
	ColumnReal    ColumnType = "real"
	ColumnNumeric ColumnType = "numeric"
)

// DerivedType is the value type a column carries at runtime.
type DerivedType string

const (
	DerivedNumber  DerivedType = "number"
	DerivedString  DerivedType = "string"
	DerivedBoolean DerivedType = "boolean"
	DerivedUnknown DerivedType = "unknown"
)

// Column describes one declared field: its storage type and the value
// type derived from it. Columns are immutable and owned by their entity.
type Column struct {
	Name    string
	SQLType ColumnType
	Derived DerivedType
}

// NewColumn builds a Column, deriving the value type from the SQL type.
func NewColumn(name string, sqlType ColumnType) Column {
	return Column{
		Name:    name,
		SQLType: sqlType,
		Derived: Derive(sqlType),
	}
}

// Derive maps a column's storage type to its runtime value type.
func Derive(t ColumnType) DerivedType {
	switch t {
	case ColumnInteger, ColumnBigint, ColumnReal, ColumnNumeric:
		return DerivedNumber
	case ColumnText:
		return DerivedString
	case ColumnBoolean:
		return DerivedBoolean
	default:
		return DerivedUnknown
	}
}

// Valid reports whether t is one of the supported column types.
func (t ColumnType) Valid() bool {
	switch t {
	case ColumnInteger, ColumnBigint, ColumnText, ColumnBoolean, ColumnReal, ColumnNumeric:
		return true
	}
	return false
}

// SQL returns the SQL column type name used in DDL statements.
func (t ColumnType) SQL() string {
	switch t {
	case ColumnInteger:
		return "INTEGER"
	case ColumnBigint:
		return "BIGINT"
	case ColumnBoolean:
		return "BOOLEAN"
	case ColumnReal:
		return "REAL"
	case ColumnNumeric:
		return "NUMERIC"
	default:
		return "TEXT"
	}
}

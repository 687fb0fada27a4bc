package schema

import (
	"os"
	"path/filepath"
	"testing"
)

const todosYAML = `
entity: todos
columns:
  name: text
  done: boolean
versioning:
  kind: versions
  amount: 5
universe_limit: 2
defaults:
  - id: welcome
    fields:
      name: "try strata"
      done: false
`

func TestParse(t *testing.T) {
	ent, err := Parse([]byte(todosYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if ent.Name != "todos" {
		t.Errorf("name = %q, want todos", ent.Name)
	}
	if ent.Columns["name"] != ColumnText {
		t.Errorf("name column = %q, want text", ent.Columns["name"])
	}
	if ent.Columns["done"] != ColumnBoolean {
		t.Errorf("done column = %q, want boolean", ent.Columns["done"])
	}
	if ent.Versioning == nil || ent.Versioning.Kind != RetainVersions || ent.Versioning.Amount != 5 {
		t.Errorf("versioning = %+v, want 5 versions", ent.Versioning)
	}
	if ent.UniverseLimit != 2 {
		t.Errorf("universe limit = %d, want 2", ent.UniverseLimit)
	}
	if len(ent.Defaults) != 1 || ent.Defaults[0].ID != "welcome" {
		t.Errorf("defaults = %+v, want one row with id welcome", ent.Defaults)
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"malformed yaml", "entity: [unclosed"},
		{"reserved column", "entity: users\ncolumns:\n  id: text\n"},
		{"unknown type", "entity: users\ncolumns:\n  age: decimal\n"},
		{"no columns", "entity: users\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.yaml)); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestParseDir(t *testing.T) {
	dir := t.TempDir()

	write := func(name, content string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	write("todos.yaml", "entity: todos\ncolumns:\n  name: text\n")
	write("notes.yml", "entity: notes\ncolumns:\n  body: text\n")
	write("readme.md", "not an entity")

	sub := filepath.Join(dir, "extra")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "tags.yaml"), []byte("entity: tags\ncolumns:\n  label: text\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	entities, err := ParseDir(dir)
	if err != nil {
		t.Fatalf("parse dir: %v", err)
	}

	if len(entities) != 3 {
		t.Fatalf("expected 3 entities, got %d", len(entities))
	}

	names := make(map[string]bool)
	for _, e := range entities {
		names[e.Name] = true
	}
	for _, want := range []string{"todos", "notes", "tags"} {
		if !names[want] {
			t.Errorf("missing entity %q", want)
		}
	}
}

func TestParseDirMissing(t *testing.T) {
	if _, err := ParseDir("/nonexistent/entities"); err == nil {
		t.Error("expected error for missing directory")
	}
}

package metadata

import (
	"os"
	"path/filepath"
	"testing"
)

func writeDefinition(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("write definition: %v", err)
	}
}

func TestLoadAllReadsEntityDefinitions(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "orders.json", `{
		"name": "orders",
		"table": "orders",
		"primary_key": {"field": "id", "type": "uuid", "generated": true},
		"soft_delete": true,
		"ownership": "created_by",
		"fields": [
			{"name": "id", "type": "uuid"},
			{"name": "status", "type": "string", "required": true, "enum": ["draft", "paid"]},
			{"name": "total", "type": "decimal", "precision": 2},
			{"name": "created_by", "type": "uuid"},
			{"name": "created_at", "type": "timestamp", "auto": "create"}
		]
	}`)
	writeDefinition(t, dir, "notes.txt", "ignored, not json")

	reg := NewRegistry()
	if err := LoadAll(dir, reg); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	e := reg.GetEntity("orders")
	if e == nil {
		t.Fatal("orders entity not registered")
	}
	if !e.SoftDelete {
		t.Fatal("expected soft_delete to be set")
	}
	if e.Ownership != "created_by" {
		t.Fatalf("expected ownership created_by, got %q", e.Ownership)
	}
	if !e.HasField("status") || e.HasField("bogus") {
		t.Fatal("field lookup broken")
	}
	if got := len(e.WritableFields()); got != 3 {
		// id is generated, created_at is auto
		t.Fatalf("expected 3 writable fields, got %d", got)
	}
}

func TestLoadAllRejectsBadPrimaryKey(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "bad.json", `{
		"name": "bad",
		"primary_key": {"field": "id", "type": "uuid"},
		"fields": [{"name": "other", "type": "string"}]
	}`)

	if err := LoadAll(dir, NewRegistry()); err == nil {
		t.Fatal("expected error for undefined primary key field")
	}
}

func TestLoadAllRejectsUnknownOwnershipField(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "bad.json", `{
		"name": "bad",
		"primary_key": {"field": "id", "type": "uuid"},
		"ownership": "owner",
		"fields": [{"name": "id", "type": "uuid"}]
	}`)

	if err := LoadAll(dir, NewRegistry()); err == nil {
		t.Fatal("expected error for undefined ownership field")
	}
}

func TestFieldEnumAllowsValue(t *testing.T) {
	f := Field{Name: "status", Type: "string", Enum: []string{"draft", "paid"}}
	if !f.AllowsValue("paid") {
		t.Fatal("expected paid to be allowed")
	}
	if f.AllowsValue("void") {
		t.Fatal("expected void to be rejected")
	}
	open := Field{Name: "note", Type: "string"}
	if !open.AllowsValue("anything") {
		t.Fatal("fields without enum allow everything")
	}
}

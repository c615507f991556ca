package postgres

import (
	"strings"
	"testing"
)

func TestSanitizeQuery(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"params untouched", "SELECT * FROM transactions WHERE user_id = $1 AND date BETWEEN $2 AND $3", "SELECT * FROM transactions WHERE user_id = $1 AND date BETWEEN $2 AND $3"},
		{"string literal", "UPDATE connections SET access_token = 'access-sandbox-1' WHERE id = $1", "UPDATE connections SET access_token = '?' WHERE id = $1"},
		{"escaped quote", "SELECT 'o''brien'", "SELECT '?'"},
		{"numeric literal", "SELECT * FROM t LIMIT 100 OFFSET 25.5", "SELECT * FROM t LIMIT ? OFFSET ?"},
		{"identifier digits kept", "SELECT col1 FROM t2", "SELECT col1 FROM t2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeQuery(tt.in); got != tt.want {
				t.Errorf("sanitizeQuery() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSanitizeQuery_Truncates(t *testing.T) {
	got := sanitizeQuery("SELECT " + strings.Repeat("x", 400))
	if len(got) != 256+len("...") {
		t.Errorf("len = %d, want %d", len(got), 256+3)
	}
}

func TestExtractSQLVerb(t *testing.T) {
	for in, want := range map[string]string{
		"\n\t\tinsert into receipt_items": "INSERT",
		"DELETE FROM sync_cursors":        "DELETE",
		"begin":                           "BEGIN",
	} {
		if got := extractSQLVerb(in); got != want {
			t.Errorf("extractSQLVerb(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSchemaEmbedded(t *testing.T) {
	for _, table := range []string{"connections", "sync_cursors", "accounts", "transactions", "receipt_files", "receipt_items", "notifications"} {
		if !strings.Contains(schema, "CREATE TABLE IF NOT EXISTS "+table+" (") {
			t.Errorf("schema missing table %s", table)
		}
	}
	if !strings.Contains(schema, "pg_notify('receipt_uploaded'") {
		t.Error("schema missing receipt_uploaded trigger")
	}
}

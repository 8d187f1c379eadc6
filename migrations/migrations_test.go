package migrations

import (
	"io/fs"
	"strings"
	"testing"
)

func TestFS_ContainsAnnotatedMigrations(t *testing.T) {
	files, err := fs.Glob(FS, "*.sql")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if len(files) == 0 {
		t.Fatal("expected embedded migrations")
	}
	for _, name := range files {
		data, err := FS.ReadFile(name)
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		sql := string(data)
		if !strings.Contains(sql, "-- +goose Up") || !strings.Contains(sql, "-- +goose Down") {
			t.Errorf("%s: missing goose annotations", name)
		}
	}

	data, _ := FS.ReadFile("00001_init.sql")
	if !strings.Contains(string(data), "ON job (queue, dedup_key) WHERE state = 'pending'") {
		t.Error("expected the partial unique dedup index on job")
	}
}

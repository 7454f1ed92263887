package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testMigrationsDir = "../../db/migrations"

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	ups, err := listMigrations(testMigrationsDir, "up")
	if err != nil {
		t.Fatalf("list up migrations: %v", err)
	}
	downs, err := listMigrations(testMigrationsDir, "down")
	if err != nil {
		t.Fatalf("list down migrations: %v", err)
	}
	if len(ups) == 0 {
		t.Fatal("no migrations discovered")
	}
	if len(ups) != len(downs) {
		t.Fatalf("expected one down per up, got %d up and %d down", len(ups), len(downs))
	}
	for i := range ups {
		if ups[i].version != downs[len(downs)-1-i].version {
			t.Fatalf("version %s has no matching down migration", ups[i].version)
		}
	}
}

func TestListMigrationsOrdersByDirection(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"0002_b.up.sql", "0001_a.up.sql", "0001_a.down.sql", "0002_b.down.sql", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	ups, err := listMigrations(dir, "up")
	if err != nil {
		t.Fatal(err)
	}
	if len(ups) != 2 || ups[0].version != "0001" || ups[1].version != "0002" {
		t.Fatalf("unexpected up order: %+v", ups)
	}
	downs, err := listMigrations(dir, "down")
	if err != nil {
		t.Fatal(err)
	}
	if len(downs) != 2 || downs[0].version != "0002" || downs[1].version != "0001" {
		t.Fatalf("unexpected down order: %+v", downs)
	}
}

func TestInitMigrationDeclaresAnnotationTables(t *testing.T) {
	contents, err := os.ReadFile(filepath.Join(testMigrationsDir, "0001_init.up.sql"))
	if err != nil {
		t.Fatalf("read init migration: %v", err)
	}
	sql := string(contents)
	for _, table := range []string{"users", "documents", "comments", "strikethroughs", "insertions"} {
		if !strings.Contains(sql, "CREATE TABLE "+table+" (") {
			t.Fatalf("init migration is missing table %s", table)
		}
	}
}

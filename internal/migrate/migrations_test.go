package migrate_test

import (
	"context"
	"testing"

	"stageboard/internal/db"
	"stageboard/internal/migrate"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	for i := 0; i < 2; i++ {
		if err := migrate.Migrate(conn); err != nil {
			t.Fatalf("migrate pass %d: %v", i, err)
		}
	}
	migrations, err := migrate.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	v, err := migrate.Version(context.Background(), conn)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if want := migrations[len(migrations)-1].Version; v != want {
		t.Fatalf("expected version %d, got %d", want, v)
	}
	for _, table := range []string{"sessions", "preferences", "move_log"} {
		var name string
		if err := conn.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name); err != nil {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}
}

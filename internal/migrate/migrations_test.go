package migrate_test

import (
	"testing"

	"github.com/DevanaGroup/titanium/internal/db"
	"github.com/DevanaGroup/titanium/internal/migrate"
)

func TestMigrateRecordsEachVersionOnce(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()

	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// A second run must see everything as applied and change nothing.
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("re-migrate: %v", err)
	}

	rows, err := conn.Query(`SELECT version, name FROM schema_migrations ORDER BY version`)
	if err != nil {
		t.Fatalf("query schema_migrations: %v", err)
	}
	defer rows.Close()
	var got []string
	for rows.Next() {
		var version int
		var name string
		if err := rows.Scan(&version, &name); err != nil {
			t.Fatalf("scan: %v", err)
		}
		got = append(got, name)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(got) != 1 || got[0] != "001_init.sql" {
		t.Fatalf("applied migrations %v, want exactly 001_init.sql", got)
	}

	// The schema itself must be usable after both runs.
	if _, err := conn.Exec(`INSERT INTO collaborators (uid, first_name, last_name, email, hierarchy_level, created_at)
		VALUES ('x', 'X', 'Y', 'x@example.com', 'colaborador', '2024-06-01T09:00:00Z')`); err != nil {
		t.Fatalf("insert into migrated schema: %v", err)
	}
}

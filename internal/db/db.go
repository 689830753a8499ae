// Package db opens the workspace SQLite database. All state lives
// under a dotted .titanium directory next to the user's working tree.
package db

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

const (
	workspaceDir = ".titanium"
	databaseName = "titanium.db"
)

// pragmas applied on every connection. busy_timeout matters because
// the serve command drives the engine and the webhook dispatcher over
// the same file; WAL lets those writers queue instead of failing.
var pragmas = []string{
	"foreign_keys(1)",
	"busy_timeout(5000)",
	"journal_mode(WAL)",
}

type Config struct {
	Workspace string
}

// EnsureWorkspace creates the dotted state directory under the given
// root and returns its path.
func EnsureWorkspace(workspace string) (string, error) {
	if workspace == "" {
		workspace = "."
	}
	path := filepath.Join(workspace, workspaceDir)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Open ensures the workspace exists and opens its database.
func Open(cfg Config) (*sql.DB, error) {
	dir, err := EnsureWorkspace(cfg.Workspace)
	if err != nil {
		return nil, err
	}
	dsn := "file:" + filepath.Join(dir, databaseName) + "?_pragma=" + strings.Join(pragmas, "&_pragma=")
	return sql.Open("sqlite", dsn)
}

// Path reports where the database for a workspace lives, whether or
// not it exists yet.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, workspaceDir, databaseName)
}

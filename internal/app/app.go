// Package app wires the workspace pieces together for the CLI and the
// server: database, migrations, config, logger and engine.
package app

import (
	"path/filepath"

	"go.uber.org/zap"

	"github.com/DevanaGroup/titanium/internal/attach"
	"github.com/DevanaGroup/titanium/internal/config"
	"github.com/DevanaGroup/titanium/internal/db"
	"github.com/DevanaGroup/titanium/internal/engine"
	"github.com/DevanaGroup/titanium/internal/logger"
	"github.com/DevanaGroup/titanium/internal/migrate"
)

type Runtime struct {
	Engine engine.Engine
	Config *config.Config
	Logger *zap.Logger
}

// Open prepares a ready-to-use runtime over the given workspace. The
// caller owns the database handle through Close.
func Open(workspace string) (*Runtime, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	store := attach.NewDiskStore(AttachmentsRoot(workspace))
	return &Runtime{
		Engine: engine.New(conn, store, log),
		Config: cfg,
		Logger: log,
	}, nil
}

// AttachmentsRoot is where the disk store keeps uploaded files.
func AttachmentsRoot(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".titanium", "attachments")
}

func (r *Runtime) Close() error {
	_ = r.Logger.Sync()
	return r.Engine.DB.Close()
}

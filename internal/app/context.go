// Package app wires the shared runtime for the CLI and the server: database,
// migrations, config and engine.
package app

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"apiary/internal/akashic"
	"apiary/internal/config"
	"apiary/internal/db"
	"apiary/internal/engine"
	"apiary/internal/migrate"
	"apiary/internal/repo"
)

// Env is the assembled runtime for one workspace.
type Env struct {
	DB     *sql.DB
	Store  *akashic.SQLiteStore
	Repo   repo.Repo
	Config *config.Config
	Engine *engine.Engine
}

// Open builds the environment for a workspace: opens the database, applies
// migrations and loads apiary.yml, falling back to defaults when the config
// file is absent.
func Open(workspace string) (*Env, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default(defaultHiveID(workspace))
	}
	store := akashic.NewSQLiteStore(conn)
	return &Env{
		DB:     conn,
		Store:  store,
		Repo:   repo.Repo{DB: conn},
		Config: cfg,
		Engine: engine.New(store, cfg),
	}, nil
}

func (e *Env) Close() error {
	return e.DB.Close()
}

// defaultHiveID derives a hive id from the workspace directory name.
func defaultHiveID(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	abs, err := filepath.Abs(workspace)
	if err != nil {
		if wd, werr := os.Getwd(); werr == nil {
			abs = wd
		} else {
			return "default"
		}
	}
	base := filepath.Base(abs)
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "default"
	}
	return base
}

package app

import (
	"database/sql"
	"fmt"

	"overwatch/internal/audit"
	"overwatch/internal/config"
	"overwatch/internal/db"
	"overwatch/internal/migrate"
	"overwatch/internal/repo"
)

// App bundles the per-workspace state every command needs: the record store,
// the validated config and the audit ledger.
type App struct {
	Workspace string
	DB        *sql.DB
	Config    *config.Config
	Ledger    *audit.Ledger
	Repo      repo.Repo
}

// Open wires up a workspace. A missing or invalid overwatch.yml is a fatal
// configuration error.
func Open(workspace string) (*App, error) {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return nil, err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	ledger, err := audit.Open(workspace)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &App{
		Workspace: workspace,
		DB:        conn,
		Config:    cfg,
		Ledger:    ledger,
		Repo:      repo.Repo{DB: conn},
	}, nil
}

// Close releases the database handle.
func (a *App) Close() error {
	if a.DB != nil {
		return a.DB.Close()
	}
	return nil
}

package app

import (
	"context"
	"database/sql"
	"fmt"

	"permitdesk/internal/config"
	"permitdesk/internal/db"
	"permitdesk/internal/engine"
	"permitdesk/internal/migrate"
	"permitdesk/internal/repo"
)

// Open resolves the workspace, opens the database, runs migrations and seeds
// the permit-type catalog from config. configPath overrides the workspace
// permitdesk.yml when set.
func Open(ctx context.Context, workspace, configPath string) (*sql.DB, *config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.FromFile(configPath)
	} else {
		cfg, err = config.Load(workspace)
	}
	if err != nil {
		return nil, nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	r := repo.Repo{DB: conn}
	if err := r.SeedPermitTypes(ctx, cfg); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("seed permit types: %w", err)
	}
	return conn, cfg, nil
}

// NewEngine opens the workspace and wires a ready engine.
func NewEngine(ctx context.Context, workspace, configPath string) (engine.Engine, func() error, error) {
	conn, cfg, err := Open(ctx, workspace, configPath)
	if err != nil {
		return engine.Engine{}, nil, err
	}
	return engine.New(conn, cfg), conn.Close, nil
}

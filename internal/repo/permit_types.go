package repo

import (
	"context"
	"database/sql"
	"time"

	"permitdesk/internal/config"
	"permitdesk/internal/domain"
)

func scanPermitType(scan func(dest ...any) error) (domain.PermitType, error) {
	var (
		pt     domain.PermitType
		active int
	)
	err := scan(&pt.ID, &pt.Kind, &pt.Name, &pt.Description, &pt.BaseFee, &pt.ReviewDays, &active, &pt.CreatedAt)
	if err == sql.ErrNoRows {
		return pt, ErrNotFound
	}
	pt.Active = active != 0
	return pt, err
}

func (r Repo) GetPermitType(ctx context.Context, id string) (domain.PermitType, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,kind,name,COALESCE(description,''),base_fee,review_days,active,created_at FROM permit_types WHERE id=?`, id)
	return scanPermitType(row.Scan)
}

func (r Repo) ListPermitTypes(ctx context.Context, activeOnly bool) ([]domain.PermitType, error) {
	query := `SELECT id,kind,name,COALESCE(description,''),base_fee,review_days,active,created_at FROM permit_types`
	if activeOnly {
		query += ` WHERE active=1`
	}
	query += ` ORDER BY id`
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PermitType
	for rows.Next() {
		pt, err := scanPermitType(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, pt)
	}
	return res, rows.Err()
}

func (r Repo) UpsertPermitType(ctx context.Context, tx *sql.Tx, pt domain.PermitType) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	active := 0
	if pt.Active {
		active = 1
	}
	_, err := exec(ctx, `INSERT INTO permit_types(id,kind,name,description,base_fee,review_days,active,created_at)
VALUES (?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET kind=excluded.kind, name=excluded.name, description=excluded.description,
base_fee=excluded.base_fee, review_days=excluded.review_days, active=excluded.active`,
		pt.ID, string(pt.Kind), pt.Name, nullable(pt.Description), pt.BaseFee, pt.ReviewDays, active, pt.CreatedAt)
	return err
}

// SeedPermitTypes mirrors the config catalog into the permit_types table.
func (r Repo) SeedPermitTypes(ctx context.Context, cfg *config.Config) error {
	now := time.Now().UTC().Format(time.RFC3339)
	for id, tc := range cfg.PermitTypes {
		pt := domain.PermitType{
			ID:          id,
			Kind:        domain.PermitKind(tc.Kind),
			Name:        tc.Name,
			Description: tc.Description,
			BaseFee:     tc.BaseFee,
			ReviewDays:  tc.ReviewDays,
			Active:      true,
			CreatedAt:   now,
		}
		if err := r.UpsertPermitType(ctx, nil, pt); err != nil {
			return err
		}
	}
	return nil
}

package repo

import (
	"context"
	"database/sql"
	"errors"

	"permitdesk/internal/domain"
)

// EnsureActor inserts an actor with the applicant role if missing.
func (r Repo) EnsureActor(ctx context.Context, tx *sql.Tx, actorID, now string) error {
	if actorID == "" {
		return errors.New("actor_id required")
	}
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	_, err := exec(ctx, `INSERT OR IGNORE INTO actors(id, role, created_at) VALUES (?,'applicant',?)`, actorID, now)
	return err
}

// GetActorRole returns the stored role for an actor.
func (r Repo) GetActorRole(ctx context.Context, actorID string) (string, error) {
	var role string
	err := r.DB.QueryRowContext(ctx, `SELECT role FROM actors WHERE id=?`, actorID).Scan(&role)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return role, err
}

// SetActorRole creates or updates the actor's primary role. Pass the caller's
// transaction so the grant commits atomically with its audit event.
func (r Repo) SetActorRole(ctx context.Context, tx *sql.Tx, actorID, role, now string) error {
	if actorID == "" {
		return errors.New("actor_id required")
	}
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	_, err := exec(ctx, `INSERT INTO actors(id, role, created_at) VALUES (?,?,?)
ON CONFLICT(id) DO UPDATE SET role=excluded.role`, actorID, role, now)
	return err
}

// ListActors returns all registered actors.
func (r Repo) ListActors(ctx context.Context) ([]domain.Actor, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id, role, created_at FROM actors ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Actor
	for rows.Next() {
		var a domain.Actor
		if err := rows.Scan(&a.ID, &a.Role, &a.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"permitdesk/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const permitColumns = `id,seq,permit_number,kind,status,applicant_id,info_json,
submission_date,approval_date,rejection_date,expiration_date,
COALESCE(approval_notes,''),COALESCE(conditions,''),COALESCE(rejection_reason,''),
created_at,updated_at`

func scanPermit(scan func(dest ...any) error) (domain.Permit, error) {
	var (
		p    domain.Permit
		seq  int64
		info string
		sub, app, rej, exp sql.NullString
	)
	err := scan(&p.ID, &seq, &p.PermitNumber, &p.Kind, &p.Status, &p.ApplicantID, &info,
		&sub, &app, &rej, &exp,
		&p.ApprovalNotes, &p.Conditions, &p.RejectionReason,
		&p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.SubmissionDate = fromNull(sub)
	p.ApprovalDate = fromNull(app)
	p.RejectionDate = fromNull(rej)
	p.ExpirationDate = fromNull(exp)
	if err := unmarshalInfo(&p, info); err != nil {
		return p, err
	}
	return p, nil
}

func unmarshalInfo(p *domain.Permit, info string) error {
	switch p.Kind {
	case domain.KindBuilding:
		var b domain.BuildingPermitInfo
		if err := json.Unmarshal([]byte(info), &b); err != nil {
			return fmt.Errorf("permit %s building info: %w", p.ID, err)
		}
		p.BuildingInfo = &b
	case domain.KindGas:
		var g domain.GasPermitInfo
		if err := json.Unmarshal([]byte(info), &g); err != nil {
			return fmt.Errorf("permit %s gas info: %w", p.ID, err)
		}
		p.GasInfo = &g
	default:
		return fmt.Errorf("permit %s has unknown kind %q", p.ID, p.Kind)
	}
	return nil
}

func marshalInfo(p domain.Permit) (string, error) {
	var (
		data []byte
		err  error
	)
	switch {
	case p.BuildingInfo != nil && p.Kind == domain.KindBuilding:
		data, err = json.Marshal(p.BuildingInfo)
	case p.GasInfo != nil && p.Kind == domain.KindGas:
		data, err = json.Marshal(p.GasInfo)
	default:
		return "", fmt.Errorf("permit payload does not match kind %q", p.Kind)
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// NextPermitSeq allocates the next display-number sequence for a kind.
func (r Repo) NextPermitSeq(ctx context.Context, tx *sql.Tx, kind domain.PermitKind) (int64, error) {
	if _, err := tx.ExecContext(ctx, `INSERT INTO permit_seq(kind,next) VALUES (?,1) ON CONFLICT(kind) DO UPDATE SET next=next+1`, string(kind)); err != nil {
		return 0, err
	}
	var next int64
	if err := tx.QueryRowContext(ctx, `SELECT next FROM permit_seq WHERE kind=?`, string(kind)).Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

func (r Repo) InsertPermit(ctx context.Context, tx *sql.Tx, p domain.Permit, seq int64) error {
	info, err := marshalInfo(p)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO permits(id,seq,permit_number,kind,status,applicant_id,info_json,
submission_date,approval_date,rejection_date,expiration_date,
approval_notes,conditions,rejection_reason,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, seq, p.PermitNumber, string(p.Kind), p.Status, p.ApplicantID, info,
		nullableStringPtr(p.SubmissionDate), nullableStringPtr(p.ApprovalDate),
		nullableStringPtr(p.RejectionDate), nullableStringPtr(p.ExpirationDate),
		nullable(p.ApprovalNotes), nullable(p.Conditions), nullable(p.RejectionReason),
		p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) UpdatePermit(ctx context.Context, tx *sql.Tx, p domain.Permit) error {
	info, err := marshalInfo(p)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE permits SET status=?,info_json=?,
submission_date=?,approval_date=?,rejection_date=?,expiration_date=?,
approval_notes=?,conditions=?,rejection_reason=?,updated_at=? WHERE id=?`,
		p.Status, info,
		nullableStringPtr(p.SubmissionDate), nullableStringPtr(p.ApprovalDate),
		nullableStringPtr(p.RejectionDate), nullableStringPtr(p.ExpirationDate),
		nullable(p.ApprovalNotes), nullable(p.Conditions), nullable(p.RejectionReason),
		p.UpdatedAt, p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeletePermit(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM permits WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetPermit(ctx context.Context, id string) (domain.Permit, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+permitColumns+` FROM permits WHERE id=?`, id)
	return scanPermit(row.Scan)
}

func (r Repo) GetPermitByNumber(ctx context.Context, number string) (domain.Permit, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+permitColumns+` FROM permits WHERE permit_number=?`, number)
	return scanPermit(row.Scan)
}

// PermitFilter narrows ListPermits. Zero values mean "no filter".
type PermitFilter struct {
	Status          string
	Kind            domain.PermitKind
	ApplicantID     string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListPermits(ctx context.Context, f PermitFilter) ([]domain.Permit, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Kind != "" {
		clauses = append(clauses, "kind=?")
		args = append(args, string(f.Kind))
	}
	if f.ApplicantID != "" {
		clauses = append(clauses, "applicant_id=?")
		args = append(args, f.ApplicantID)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	query := `SELECT ` + permitColumns + ` FROM permits WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Permit
	for rows.Next() {
		p, err := scanPermit(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// ListExpirable returns approved permits whose expiration date has passed.
func (r Repo) ListExpirable(ctx context.Context, now string) ([]domain.Permit, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+permitColumns+` FROM permits
WHERE status IN ('approved','approved_with_conditions') AND expiration_date IS NOT NULL AND expiration_date <= ?`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Permit
	for rows.Next() {
		p, err := scanPermit(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) CountPermitsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM permits GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r Repo) LatestEvents(ctx context.Context, n int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if n <= 0 {
		n = 20
	}
	args = append(args, n)
	query := `SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events
WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY id DESC LIMIT ?`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// EventsAfter returns events with an ID greater than after, oldest first.
func (r Repo) EventsAfter(ctx context.Context, n int, after int64) ([]domain.Event, error) {
	if n <= 0 {
		n = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events
WHERE id > ? ORDER BY id ASC LIMIT ?`, after, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the highest event ID, or zero for an empty log.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

func (r Repo) ListNotifications(ctx context.Context, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,type,title,message,COALESCE(permit_id,''),COALESCE(category,''),created_at
FROM notifications ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(&n.ID, &n.Type, &n.Title, &n.Message, &n.PermitID, &n.Category, &n.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func fromNull(v sql.NullString) *string {
	if !v.Valid || v.String == "" {
		return nil
	}
	s := v.String
	return &s
}

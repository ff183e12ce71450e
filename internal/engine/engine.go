package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"permitdesk/internal/authz"
	"permitdesk/internal/config"
	"permitdesk/internal/domain"
	"permitdesk/internal/events"
	"permitdesk/internal/lifecycle"
	"permitdesk/internal/notify"
	"permitdesk/internal/repo"
)

// SystemActorID is recorded on system-driven transitions such as expiry.
const SystemActorID = "system"

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Notifier notify.Sink
	Config   *config.Config
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{DB: db},
		Notifier: notify.SQLSink{DB: db},
		Config:   cfg,
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) expiry() time.Duration {
	if e.Config != nil {
		return e.Config.Expiry()
	}
	return lifecycle.DefaultExpiry
}

// ResolveActor builds an authenticated actor snapshot from the stored role.
// Unknown actors default to applicant; they are registered on first write.
func (e Engine) ResolveActor(ctx context.Context, actorID string) (authz.Actor, error) {
	if actorID == "" {
		return authz.Anonymous(), authz.NotAuthenticatedError{}
	}
	stored, err := e.Repo.GetActorRole(ctx, actorID)
	if errors.Is(err, repo.ErrNotFound) {
		return authz.NewActor(actorID, authz.RoleApplicant), nil
	}
	if err != nil {
		return authz.Anonymous(), err
	}
	role, err := authz.ParseRole(stored)
	if err != nil {
		return authz.Anonymous(), fmt.Errorf("actor %s: %w", actorID, err)
	}
	return authz.NewActor(actorID, role), nil
}

// GrantRole sets an actor's primary role. Caller must hold admin.
func (e Engine) GrantRole(ctx context.Context, actor authz.Actor, targetID, roleName string) (domain.Actor, error) {
	if err := authz.Require(actor, authz.PermAdmin); err != nil {
		return domain.Actor{}, err
	}
	role, err := authz.ParseRole(roleName)
	if err != nil {
		return domain.Actor{}, lifecycle.ValidationError{Field: "role", Message: err.Error()}
	}
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Actor{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.SetActorRole(ctx, tx, targetID, string(role), now); err != nil {
		return domain.Actor{}, err
	}
	if err := e.Events.Append(ctx, tx, "actor.role_granted", "actor", targetID, actor.ID, events.EventPayload{"role": string(role)}); err != nil {
		return domain.Actor{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Actor{}, err
	}
	return domain.Actor{ID: targetID, Role: string(role), CreatedAt: now}, nil
}

// CreateOptions are parameters for drafting a new application.
type CreateOptions struct {
	ID           string
	PermitTypeID string
	BuildingInfo *domain.BuildingPermitInfo
	GasInfo      *domain.GasPermitInfo
}

// CreatePermit drafts a new application owned by the actor.
func (e Engine) CreatePermit(ctx context.Context, actor authz.Actor, opts CreateOptions) (domain.Permit, error) {
	if err := authz.Require(actor, authz.PermCreate); err != nil {
		return domain.Permit{}, err
	}
	pt, err := e.Repo.GetPermitType(ctx, opts.PermitTypeID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Permit{}, lifecycle.ValidationError{Field: "permit_type", Message: fmt.Sprintf("unknown permit type %s", opts.PermitTypeID)}
		}
		return domain.Permit{}, err
	}
	switch pt.Kind {
	case domain.KindBuilding:
		if opts.BuildingInfo == nil || opts.GasInfo != nil {
			return domain.Permit{}, lifecycle.ValidationError{Field: "building_permit_info", Message: "building payload required for this permit type"}
		}
	case domain.KindGas:
		if opts.GasInfo == nil || opts.BuildingInfo != nil {
			return domain.Permit{}, lifecycle.ValidationError{Field: "gas_permit_info", Message: "gas payload required for this permit type"}
		}
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := e.now().UTC().Format(time.RFC3339)
	p := domain.Permit{
		ID:           id,
		Kind:         pt.Kind,
		Status:       string(lifecycle.StatusDraft),
		ApplicantID:  actor.ID,
		BuildingInfo: opts.BuildingInfo,
		GasInfo:      opts.GasInfo,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Permit{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.EnsureActor(ctx, tx, actor.ID, now); err != nil {
		return domain.Permit{}, err
	}
	seq, err := e.Repo.NextPermitSeq(ctx, tx, p.Kind)
	if err != nil {
		return domain.Permit{}, err
	}
	p.PermitNumber = domain.PermitNumber(p.Kind, seq)
	if err := e.Repo.InsertPermit(ctx, tx, p, seq); err != nil {
		return domain.Permit{}, err
	}
	if err := e.Events.Append(ctx, tx, "permit.created", "permit", p.ID, actor.ID, events.EventPayload{
		"permit_number": p.PermitNumber,
		"permit_type":   pt.ID,
		"status":        p.Status,
	}); err != nil {
		return domain.Permit{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Permit{}, err
	}
	return p, nil
}

// UpdateDraft replaces the application payload while editing is allowed.
func (e Engine) UpdateDraft(ctx context.Context, actor authz.Actor, permitID string, building *domain.BuildingPermitInfo, gas *domain.GasPermitInfo) (domain.Permit, error) {
	p, err := e.Repo.GetPermit(ctx, permitID)
	if err != nil {
		return domain.Permit{}, err
	}
	updated, err := lifecycle.Apply(p, lifecycle.ActionEdit, actor, p.ApplicantID == actor.ID, lifecycle.Payload{}, e.now(), e.expiry())
	if err != nil {
		return p, err
	}
	switch updated.Kind {
	case domain.KindBuilding:
		if building == nil {
			return p, lifecycle.ValidationError{Field: "building_permit_info", Message: "building payload required"}
		}
		updated.BuildingInfo = building
	case domain.KindGas:
		if gas == nil {
			return p, lifecycle.ValidationError{Field: "gas_permit_info", Message: "gas payload required"}
		}
		updated.GasInfo = gas
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdatePermit(ctx, tx, updated); err != nil {
		return p, err
	}
	if err := e.Events.Append(ctx, tx, "permit.updated", "permit", updated.ID, actor.ID, events.EventPayload{
		"permit_number": updated.PermitNumber,
		"status":        updated.Status,
	}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	return updated, nil
}

// Transition validates and applies a status-changing action, persists the
// result and appends the audit event in the same transaction. On success a
// notification is emitted fire-and-forget.
func (e Engine) Transition(ctx context.Context, actor authz.Actor, permitID string, action lifecycle.Action, payload lifecycle.Payload) (domain.Permit, error) {
	p, err := e.Repo.GetPermit(ctx, permitID)
	if err != nil {
		return domain.Permit{}, err
	}
	updated, err := lifecycle.Apply(p, action, actor, p.ApplicantID == actor.ID, payload, e.now(), e.expiry())
	if err != nil {
		return p, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdatePermit(ctx, tx, updated); err != nil {
		return p, err
	}
	evt := events.EventPayload{
		"permit_number": updated.PermitNumber,
		"from_status":   p.Status,
		"to_status":     updated.Status,
	}
	if payload.Reason != "" {
		evt["reason"] = payload.Reason
	}
	if payload.Notes != "" {
		evt["notes"] = payload.Notes
	}
	if payload.Conditions != "" {
		evt["conditions"] = payload.Conditions
	}
	if err := e.Events.Append(ctx, tx, "permit."+string(action), "permit", updated.ID, actor.ID, evt); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	if updated.Status != p.Status {
		e.notifyStatusChange(ctx, updated, p.Status)
	}
	return updated, nil
}

// DeletePermit removes a draft or withdrawn application.
func (e Engine) DeletePermit(ctx context.Context, actor authz.Actor, permitID string) error {
	p, err := e.Repo.GetPermit(ctx, permitID)
	if err != nil {
		return err
	}
	if _, err := lifecycle.Apply(p, lifecycle.ActionDelete, actor, p.ApplicantID == actor.ID, lifecycle.Payload{}, e.now(), e.expiry()); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeletePermit(ctx, tx, p.ID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "permit.deleted", "permit", p.ID, actor.ID, events.EventPayload{
		"permit_number": p.PermitNumber,
		"status":        p.Status,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// AvailableActions returns the ordered legal action set for the actor.
func (e Engine) AvailableActions(ctx context.Context, actor authz.Actor, permitID string) ([]lifecycle.Action, error) {
	p, err := e.Repo.GetPermit(ctx, permitID)
	if err != nil {
		return nil, err
	}
	s, err := lifecycle.ParseStatus(p.Status)
	if err != nil {
		return nil, err
	}
	return lifecycle.AvailableActions(s, actor, p.ApplicantID == actor.ID), nil
}

// ExpireOverdue sweeps approved permits past their expiration date. It is
// idempotent and safe to run on a schedule.
func (e Engine) ExpireOverdue(ctx context.Context) (int, error) {
	now := e.now()
	due, err := e.Repo.ListExpirable(ctx, now.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, p := range due {
		updated, changed := lifecycle.Expire(p, now)
		if !changed {
			continue
		}
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return expired, err
		}
		if err := e.Repo.UpdatePermit(ctx, tx, updated); err != nil {
			tx.Rollback()
			return expired, err
		}
		if err := e.Events.Append(ctx, tx, "permit.expired", "permit", updated.ID, SystemActorID, events.EventPayload{
			"permit_number": updated.PermitNumber,
			"from_status":   p.Status,
			"to_status":     updated.Status,
		}); err != nil {
			tx.Rollback()
			return expired, err
		}
		if err := tx.Commit(); err != nil {
			return expired, err
		}
		e.notifyStatusChange(ctx, updated, p.Status)
		expired++
	}
	return expired, nil
}

func (e Engine) notifyStatusChange(ctx context.Context, p domain.Permit, fromStatus string) {
	if e.Notifier == nil {
		return
	}
	e.Notifier.Notify(ctx, notify.Event{
		Type:     "permit.status_changed",
		Title:    fmt.Sprintf("Permit %s %s", p.PermitNumber, p.Status),
		Message:  fmt.Sprintf("Status changed from %s to %s", fromStatus, p.Status),
		PermitID: p.ID,
		Category: "permit",
	})
}

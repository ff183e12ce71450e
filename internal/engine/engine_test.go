package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"permitdesk/internal/authz"
	"permitdesk/internal/config"
	"permitdesk/internal/db"
	"permitdesk/internal/domain"
	"permitdesk/internal/engine"
	"permitdesk/internal/lifecycle"
	"permitdesk/internal/migrate"
	"permitdesk/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return fixedNow }
	ctx := context.Background()
	if err := eng.Repo.SeedPermitTypes(ctx, cfg); err != nil {
		t.Fatalf("seed permit types: %v", err)
	}
	for id, role := range map[string]string{
		"alice": "contractor",
		"rita":  "reviewer",
		"mia":   "admin",
	} {
		if err := eng.Repo.SetActorRole(ctx, nil, id, role, fixedNow.Format(time.RFC3339)); err != nil {
			t.Fatalf("seed actor %s: %v", id, err)
		}
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func (env testEnv) actor(t *testing.T, id string) authz.Actor {
	t.Helper()
	a, err := env.Engine.ResolveActor(env.Ctx, id)
	if err != nil {
		t.Fatalf("resolve actor %s: %v", id, err)
	}
	return a
}

func (env testEnv) draft(t *testing.T, owner authz.Actor) domain.Permit {
	t.Helper()
	p, err := env.Engine.CreatePermit(env.Ctx, owner, engine.CreateOptions{
		PermitTypeID: "building.residential",
		BuildingInfo: &domain.BuildingPermitInfo{
			ProjectAddress:  "12 Main St",
			WorkDescription: "rear deck",
			ProjectCost:     15000,
		},
	})
	if err != nil {
		t.Fatalf("create permit: %v", err)
	}
	return p
}

func TestCreateAssignsPermitNumber(t *testing.T) {
	env := newTestEnv(t)
	alice := env.actor(t, "alice")

	first := env.draft(t, alice)
	if first.PermitNumber != "BP000001" {
		t.Fatalf("permit number = %s", first.PermitNumber)
	}
	if first.Status != "draft" {
		t.Fatalf("status = %s", first.Status)
	}
	second := env.draft(t, alice)
	if second.PermitNumber != "BP000002" {
		t.Fatalf("second permit number = %s", second.PermitNumber)
	}

	gas, err := env.Engine.CreatePermit(env.Ctx, alice, engine.CreateOptions{
		PermitTypeID: "gas.residential",
		GasInfo:      &domain.GasPermitInfo{ProjectAddress: "12 Main St", WorkDescription: "range hookup", ProjectCost: 800},
	})
	if err != nil {
		t.Fatalf("create gas permit: %v", err)
	}
	if gas.PermitNumber != "GP000001" {
		t.Fatalf("gas permit number = %s", gas.PermitNumber)
	}
}

func TestCreateRejectsMismatchedPayload(t *testing.T) {
	env := newTestEnv(t)
	alice := env.actor(t, "alice")
	_, err := env.Engine.CreatePermit(env.Ctx, alice, engine.CreateOptions{
		PermitTypeID: "building.residential",
		GasInfo:      &domain.GasPermitInfo{ProjectAddress: "x", WorkDescription: "y", ProjectCost: 1},
	})
	var ve lifecycle.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("want ValidationError, got %v", err)
	}
}

func TestSubmitApproveFlow(t *testing.T) {
	env := newTestEnv(t)
	alice := env.actor(t, "alice")
	rita := env.actor(t, "rita")

	p := env.draft(t, alice)
	p, err := env.Engine.Transition(env.Ctx, alice, p.ID, lifecycle.ActionSubmit, lifecycle.Payload{})
	if err != nil || p.Status != "submitted" {
		t.Fatalf("submit: %v status=%s", err, p.Status)
	}
	if p.SubmissionDate == nil {
		t.Fatalf("submission date not set")
	}
	p, err = env.Engine.Transition(env.Ctx, rita, p.ID, lifecycle.ActionBeginReview, lifecycle.Payload{})
	if err != nil || p.Status != "under_review" {
		t.Fatalf("begin review: %v status=%s", err, p.Status)
	}
	p, err = env.Engine.Transition(env.Ctx, rita, p.ID, lifecycle.ActionApprove, lifecycle.Payload{Notes: "looks good"})
	if err != nil || p.Status != "approved" {
		t.Fatalf("approve: %v status=%s", err, p.Status)
	}
	if p.ApprovalDate == nil || p.ExpirationDate == nil {
		t.Fatalf("approval/expiration dates not set")
	}
	stored, err := env.Engine.Repo.GetPermit(env.Ctx, p.ID)
	if err != nil || stored.Status != "approved" {
		t.Fatalf("stored permit: %v %s", err, stored.Status)
	}
}

func TestRejectRequiresReasonAndKeepsSnapshot(t *testing.T) {
	env := newTestEnv(t)
	alice := env.actor(t, "alice")
	rita := env.actor(t, "rita")

	p := env.draft(t, alice)
	p, _ = env.Engine.Transition(env.Ctx, alice, p.ID, lifecycle.ActionSubmit, lifecycle.Payload{})

	_, err := env.Engine.Transition(env.Ctx, rita, p.ID, lifecycle.ActionReject, lifecycle.Payload{Reason: "   "})
	var ve lifecycle.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("want ValidationError, got %v", err)
	}
	stored, _ := env.Engine.Repo.GetPermit(env.Ctx, p.ID)
	if stored.Status != "submitted" {
		t.Fatalf("failed reject must not persist a change, status=%s", stored.Status)
	}

	rejected, err := env.Engine.Transition(env.Ctx, rita, p.ID, lifecycle.ActionReject, lifecycle.Payload{Reason: "incomplete plans"})
	if err != nil || rejected.Status != "rejected" || rejected.RejectionReason != "incomplete plans" {
		t.Fatalf("reject: %v %+v", err, rejected)
	}
}

func TestApplicantCannotApprove(t *testing.T) {
	env := newTestEnv(t)
	alice := env.actor(t, "alice")
	p := env.draft(t, alice)
	p, _ = env.Engine.Transition(env.Ctx, alice, p.ID, lifecycle.ActionSubmit, lifecycle.Payload{})

	_, err := env.Engine.Transition(env.Ctx, alice, p.ID, lifecycle.ActionApprove, lifecycle.Payload{})
	var ite lifecycle.IllegalTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("want IllegalTransitionError, got %v", err)
	}
}

func TestReviseAfterRejection(t *testing.T) {
	env := newTestEnv(t)
	alice := env.actor(t, "alice")
	rita := env.actor(t, "rita")

	p := env.draft(t, alice)
	p, _ = env.Engine.Transition(env.Ctx, alice, p.ID, lifecycle.ActionSubmit, lifecycle.Payload{})
	p, _ = env.Engine.Transition(env.Ctx, rita, p.ID, lifecycle.ActionReject, lifecycle.Payload{Reason: "missing site plan"})

	revised, err := env.Engine.Transition(env.Ctx, alice, p.ID, lifecycle.ActionRevise, lifecycle.Payload{})
	if err != nil || revised.Status != "submitted" {
		t.Fatalf("revise: %v status=%s", err, revised.Status)
	}
	if revised.RejectionReason != "" || revised.RejectionDate != nil {
		t.Fatalf("rejection fields should clear on revise")
	}
}

func TestDeleteOnlyWithDeletePermission(t *testing.T) {
	env := newTestEnv(t)
	alice := env.actor(t, "alice")
	mia := env.actor(t, "mia")

	p := env.draft(t, alice)
	if err := env.Engine.DeletePermit(env.Ctx, alice, p.ID); err == nil {
		t.Fatalf("contractor should not delete")
	}
	if err := env.Engine.DeletePermit(env.Ctx, mia, p.ID); err != nil {
		t.Fatalf("admin delete: %v", err)
	}
	if _, err := env.Engine.Repo.GetPermit(env.Ctx, p.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("permit should be gone, got %v", err)
	}
}

func TestExpireOverdue(t *testing.T) {
	env := newTestEnv(t)
	alice := env.actor(t, "alice")
	rita := env.actor(t, "rita")

	p := env.draft(t, alice)
	p, _ = env.Engine.Transition(env.Ctx, alice, p.ID, lifecycle.ActionSubmit, lifecycle.Payload{})
	p, _ = env.Engine.Transition(env.Ctx, rita, p.ID, lifecycle.ActionApprove, lifecycle.Payload{})

	// Not yet due.
	n, err := env.Engine.ExpireOverdue(env.Ctx)
	if err != nil || n != 0 {
		t.Fatalf("premature expiry: n=%d err=%v", n, err)
	}

	// Move the clock past the expiration date and sweep again.
	env.Engine.Now = func() time.Time { return fixedNow.Add(env.Engine.Config.Expiry() + time.Hour) }
	n, err = env.Engine.ExpireOverdue(env.Ctx)
	if err != nil || n != 1 {
		t.Fatalf("expiry sweep: n=%d err=%v", n, err)
	}
	stored, _ := env.Engine.Repo.GetPermit(env.Ctx, p.ID)
	if stored.Status != "expired" {
		t.Fatalf("status = %s", stored.Status)
	}
	// Idempotent.
	n, err = env.Engine.ExpireOverdue(env.Ctx)
	if err != nil || n != 0 {
		t.Fatalf("second sweep: n=%d err=%v", n, err)
	}
}

func TestEventsAppendedOnTransitions(t *testing.T) {
	env := newTestEnv(t)
	alice := env.actor(t, "alice")
	rita := env.actor(t, "rita")

	p := env.draft(t, alice)
	p, _ = env.Engine.Transition(env.Ctx, alice, p.ID, lifecycle.ActionSubmit, lifecycle.Payload{})
	p, _ = env.Engine.Transition(env.Ctx, rita, p.ID, lifecycle.ActionApprove, lifecycle.Payload{Notes: "ok"})

	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "", "permit", p.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evts) < 3 {
		t.Fatalf("expected create/submit/approve events, got %d", len(evts))
	}
	if evts[0].Type != "permit.approve" {
		t.Fatalf("latest event = %s", evts[0].Type)
	}
}

func TestNotificationRecordedOnStatusChange(t *testing.T) {
	env := newTestEnv(t)
	alice := env.actor(t, "alice")

	p := env.draft(t, alice)
	if _, err := env.Engine.Transition(env.Ctx, alice, p.ID, lifecycle.ActionSubmit, lifecycle.Payload{}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	notes, err := env.Engine.Repo.ListNotifications(env.Ctx, 10)
	if err != nil {
		t.Fatalf("notifications: %v", err)
	}
	if len(notes) != 1 {
		t.Fatalf("expected one notification, got %d", len(notes))
	}
	if notes[0].PermitID != p.ID || notes[0].Type != "permit.status_changed" {
		t.Fatalf("notification = %+v", notes[0])
	}
}

func TestGrantRoleRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	alice := env.actor(t, "alice")
	mia := env.actor(t, "mia")

	if _, err := env.Engine.GrantRole(env.Ctx, alice, "bob", "reviewer"); err == nil {
		t.Fatalf("contractor should not grant roles")
	}
	granted, err := env.Engine.GrantRole(env.Ctx, mia, "bob", "reviewer")
	if err != nil || granted.Role != "reviewer" {
		t.Fatalf("grant: %v %+v", err, granted)
	}
	bob := env.actor(t, "bob")
	if !bob.IsReviewer() {
		t.Fatalf("bob should resolve as reviewer")
	}
}

func TestGrantRoleCommitsWithAuditEvent(t *testing.T) {
	env := newTestEnv(t)
	mia := env.actor(t, "mia")

	if _, err := env.Engine.GrantRole(env.Ctx, mia, "carol", "reviewer"); err != nil {
		t.Fatalf("grant: %v", err)
	}
	role, err := env.Engine.Repo.GetActorRole(env.Ctx, "carol")
	if err != nil || role != "reviewer" {
		t.Fatalf("stored role = %q, %v", role, err)
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 5, "actor.role_granted", "actor", "carol")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evts) != 1 {
		t.Fatalf("expected one role_granted event, got %d", len(evts))
	}
	if evts[0].ActorID != "mia" {
		t.Fatalf("event actor = %s", evts[0].ActorID)
	}
}

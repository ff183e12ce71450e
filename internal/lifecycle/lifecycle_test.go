package lifecycle

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"permitdesk/internal/authz"
	"permitdesk/internal/domain"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func draftPermit(kind domain.PermitKind) domain.Permit {
	created := testNow.Add(-24 * time.Hour).UTC().Format(time.RFC3339)
	p := domain.Permit{
		ID:           "permit-1",
		PermitNumber: domain.PermitNumber(kind, 1),
		Kind:         kind,
		Status:       string(StatusDraft),
		ApplicantID:  "owner-1",
		CreatedAt:    created,
		UpdatedAt:    created,
	}
	if kind == domain.KindGas {
		p.GasInfo = &domain.GasPermitInfo{ProjectAddress: "12 Main St", WorkDescription: "new line", ProjectCost: 900}
	} else {
		p.BuildingInfo = &domain.BuildingPermitInfo{ProjectAddress: "12 Main St", WorkDescription: "deck", ProjectCost: 15000}
	}
	return p
}

func withStatus(p domain.Permit, s Status) domain.Permit {
	p.Status = string(s)
	if s.Approved() {
		ts := testNow.Add(-time.Hour).UTC().Format(time.RFC3339)
		exp := testNow.Add(DefaultExpiry).UTC().Format(time.RFC3339)
		p.ApprovalDate = &ts
		p.ExpirationDate = &exp
	}
	return p
}

func TestViewAlwaysAvailable(t *testing.T) {
	actors := []authz.Actor{
		authz.NewActor("a", authz.RoleApplicant),
		authz.NewActor("c", authz.RoleContractor),
		authz.NewActor("r", authz.RoleReviewer),
		authz.NewActor("m", authz.RoleAdmin),
	}
	for _, s := range Statuses {
		for _, actor := range actors {
			for _, owner := range []bool{true, false} {
				acts := AvailableActions(s, actor, owner)
				if len(acts) == 0 || acts[0] != ActionView {
					t.Fatalf("view missing or not first for status=%s role=%s owner=%v: %v", s, actor.Role, owner, acts)
				}
			}
		}
	}
}

func TestEditRequiresUpdateCapability(t *testing.T) {
	// Applicant without update_own would need elevated update; strip the
	// derived permissions to simulate a capability-less actor.
	bare := authz.Actor{ID: "x", Role: authz.RoleApplicant, Authenticated: true}
	for _, owner := range []bool{true, false} {
		for _, a := range AvailableActions(StatusDraft, bare, owner) {
			if a == ActionEdit {
				t.Fatalf("edit available without update capability (owner=%v)", owner)
			}
		}
	}
	// update_own only edits owned permits.
	applicant := authz.NewActor("a", authz.RoleApplicant)
	if got := AvailableActions(StatusDraft, applicant, false); contains(got, ActionEdit) {
		t.Fatalf("update_own must not edit non-owned permit: %v", got)
	}
	// Elevated update edits regardless of ownership.
	admin := authz.NewActor("m", authz.RoleAdmin)
	if got := AvailableActions(StatusDraft, admin, false); !contains(got, ActionEdit) {
		t.Fatalf("admin should edit any draft: %v", got)
	}
}

func TestContractorDraftOwnerActions(t *testing.T) {
	contractor := authz.NewActor("c", authz.RoleContractor)
	got := AvailableActions(StatusDraft, contractor, true)
	want := []Action{ActionView, ActionEdit, ActionSubmit, ActionCopy, ActionShare}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("contractor draft actions = %v, want %v", got, want)
	}
	if contains(got, ActionDelete) {
		t.Fatalf("contractor must not delete")
	}
}

func TestReviewerSubmittedActions(t *testing.T) {
	reviewer := authz.NewActor("r", authz.RoleReviewer)
	got := AvailableActions(StatusSubmitted, reviewer, false)
	if !contains(got, ActionApprove) || !contains(got, ActionReject) {
		t.Fatalf("reviewer should approve/reject submitted: %v", got)
	}
	if !contains(got, ActionBeginReview) {
		t.Fatalf("reviewer should begin review: %v", got)
	}
}

func TestApplicantApprovedNotOwner(t *testing.T) {
	applicant := authz.NewActor("a", authz.RoleApplicant)
	got := AvailableActions(StatusApproved, applicant, false)
	want := []Action{ActionView, ActionDownloadCertificate, ActionCopy, ActionShare}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("applicant approved actions = %v, want %v", got, want)
	}
}

func TestApplyApprove(t *testing.T) {
	reviewer := authz.NewActor("r", authz.RoleReviewer)
	p := withStatus(draftPermit(domain.KindBuilding), StatusSubmitted)
	got, err := Apply(p, ActionApprove, reviewer, false, Payload{Notes: "ok"}, testNow, DefaultExpiry)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if got.Status != string(StatusApproved) {
		t.Fatalf("status = %s", got.Status)
	}
	if got.ApprovalDate == nil || *got.ApprovalDate != testNow.Format(time.RFC3339) {
		t.Fatalf("approval date not set")
	}
	wantExp := testNow.Add(DefaultExpiry).Format(time.RFC3339)
	if got.ExpirationDate == nil || *got.ExpirationDate != wantExp {
		t.Fatalf("expiration = %v, want %s", got.ExpirationDate, wantExp)
	}
	if got.ApprovalNotes != "ok" {
		t.Fatalf("notes = %q", got.ApprovalNotes)
	}
}

func TestApplyApproveWithConditions(t *testing.T) {
	reviewer := authz.NewActor("r", authz.RoleReviewer)
	p := withStatus(draftPermit(domain.KindGas), StatusUnderReview)
	p.ApprovalDate, p.ExpirationDate = nil, nil
	got, err := Apply(p, ActionApprove, reviewer, false, Payload{Conditions: "inspection within 30 days"}, testNow, DefaultExpiry)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if got.Status != string(StatusApprovedWithConditions) {
		t.Fatalf("status = %s", got.Status)
	}
	if got.Conditions == "" {
		t.Fatalf("conditions not recorded")
	}
}

func TestApplyRejectRequiresReason(t *testing.T) {
	reviewer := authz.NewActor("r", authz.RoleReviewer)
	p := withStatus(draftPermit(domain.KindBuilding), StatusSubmitted)

	got, err := Apply(p, ActionReject, reviewer, false, Payload{Reason: "incomplete plans"}, testNow, DefaultExpiry)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if got.Status != string(StatusRejected) || got.RejectionReason != "incomplete plans" {
		t.Fatalf("rejected = %+v", got)
	}
	if got.RejectionDate == nil {
		t.Fatalf("rejection date not set")
	}

	for _, reason := range []string{"", "   ", "\t\n"} {
		unchanged, err := Apply(p, ActionReject, reviewer, false, Payload{Reason: reason}, testNow, DefaultExpiry)
		var ve ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("reason %q: want ValidationError, got %v", reason, err)
		}
		if unchanged.Status != p.Status {
			t.Fatalf("failed reject must not change status")
		}
	}
}

func TestApplyIllegalTransition(t *testing.T) {
	applicant := authz.NewActor("a", authz.RoleApplicant)
	p := withStatus(draftPermit(domain.KindBuilding), StatusSubmitted)
	_, err := Apply(p, ActionApprove, applicant, true, Payload{}, testNow, DefaultExpiry)
	var ite IllegalTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("want IllegalTransitionError, got %v", err)
	}
	if ite.Status != StatusSubmitted || ite.Action != ActionApprove {
		t.Fatalf("error detail: %+v", ite)
	}
}

func TestApplyIsPure(t *testing.T) {
	reviewer := authz.NewActor("r", authz.RoleReviewer)
	p := withStatus(draftPermit(domain.KindBuilding), StatusSubmitted)
	first, err1 := Apply(p, ActionApprove, reviewer, false, Payload{Notes: "ok"}, testNow, DefaultExpiry)
	second, err2 := Apply(p, ActionApprove, reviewer, false, Payload{Notes: "ok"}, testNow, DefaultExpiry)
	if err1 != nil || err2 != nil {
		t.Fatalf("apply: %v %v", err1, err2)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("apply not pure: %+v vs %+v", first, second)
	}
	if p.Status != string(StatusSubmitted) {
		t.Fatalf("input permit mutated")
	}
}

func TestReviseClearsRejection(t *testing.T) {
	contractor := authz.NewActor("c", authz.RoleContractor)
	p := withStatus(draftPermit(domain.KindBuilding), StatusRejected)
	ts := testNow.Add(-time.Hour).UTC().Format(time.RFC3339)
	p.RejectionDate = &ts
	p.RejectionReason = "missing site plan"

	got, err := Apply(p, ActionRevise, contractor, true, Payload{}, testNow, DefaultExpiry)
	if err != nil {
		t.Fatalf("revise: %v", err)
	}
	if got.Status != string(StatusSubmitted) {
		t.Fatalf("status = %s", got.Status)
	}
	if got.RejectionDate != nil || got.RejectionReason != "" {
		t.Fatalf("rejection fields should be cleared on revise")
	}
	// Non-owner cannot revise.
	if _, err := Apply(p, ActionRevise, contractor, false, Payload{}, testNow, DefaultExpiry); err == nil {
		t.Fatalf("expected illegal transition for non-owner revise")
	}
}

func TestHoldResumeWithdraw(t *testing.T) {
	reviewer := authz.NewActor("r", authz.RoleReviewer)
	contractor := authz.NewActor("c", authz.RoleContractor)

	p := withStatus(draftPermit(domain.KindBuilding), StatusUnderReview)
	held, err := Apply(p, ActionHold, reviewer, false, Payload{}, testNow, DefaultExpiry)
	if err != nil || held.Status != string(StatusOnHold) {
		t.Fatalf("hold: %v %s", err, held.Status)
	}
	resumed, err := Apply(held, ActionResume, reviewer, false, Payload{}, testNow, DefaultExpiry)
	if err != nil || resumed.Status != string(StatusUnderReview) {
		t.Fatalf("resume: %v %s", err, resumed.Status)
	}
	withdrawn, err := Apply(resumed, ActionWithdraw, contractor, true, Payload{}, testNow, DefaultExpiry)
	if err != nil || withdrawn.Status != string(StatusWithdrawn) {
		t.Fatalf("withdraw: %v %s", err, withdrawn.Status)
	}
	// Terminal: nothing but view/copy/share left for the owner.
	got := AvailableActions(StatusWithdrawn, contractor, true)
	want := []Action{ActionView, ActionCopy, ActionShare}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("withdrawn actions = %v, want %v", got, want)
	}
}

func TestExpire(t *testing.T) {
	p := withStatus(draftPermit(domain.KindBuilding), StatusApproved)
	exp := testNow.Add(-time.Hour).UTC().Format(time.RFC3339)
	p.ExpirationDate = &exp

	got, changed := Expire(p, testNow)
	if !changed || got.Status != string(StatusExpired) {
		t.Fatalf("expire: changed=%v status=%s", changed, got.Status)
	}
	// Not yet due.
	future := testNow.Add(time.Hour).UTC().Format(time.RFC3339)
	p.ExpirationDate = &future
	if _, changed := Expire(p, testNow); changed {
		t.Fatalf("permit expired before its expiration date")
	}
	// Only approved permits expire.
	sub := withStatus(draftPermit(domain.KindBuilding), StatusSubmitted)
	sub.ExpirationDate = &exp
	if _, changed := Expire(sub, testNow); changed {
		t.Fatalf("submitted permit must not expire")
	}
}

func TestParseStatusSynonym(t *testing.T) {
	for _, in := range []string{"pending_review", "PENDING_REVIEW", "pending-review", "under_review"} {
		s, err := ParseStatus(in)
		if err != nil || s != StatusUnderReview {
			t.Fatalf("ParseStatus(%q) = %v, %v", in, s, err)
		}
	}
	if _, err := ParseStatus("limbo"); err == nil {
		t.Fatalf("expected error for unknown status")
	}
}

func contains(actions []Action, a Action) bool {
	for _, x := range actions {
		if x == a {
			return true
		}
	}
	return false
}

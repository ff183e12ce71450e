// Package lifecycle is the permit status state machine. It is pure: every
// decision is a function of (permit, actor, now) and nothing here touches
// storage or the clock directly.
package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"permitdesk/internal/authz"
	"permitdesk/internal/domain"
)

// Status is a permit lifecycle state.
type Status string

const (
	StatusDraft                  Status = "draft"
	StatusSubmitted              Status = "submitted"
	StatusUnderReview            Status = "under_review"
	StatusApproved               Status = "approved"
	StatusApprovedWithConditions Status = "approved_with_conditions"
	StatusRejected               Status = "rejected"
	StatusExpired                Status = "expired"
	StatusWithdrawn              Status = "withdrawn"
	StatusOnHold                 Status = "on_hold"
)

// Statuses lists every legal status in declaration order.
var Statuses = []Status{
	StatusDraft, StatusSubmitted, StatusUnderReview,
	StatusApproved, StatusApprovedWithConditions,
	StatusRejected, StatusExpired, StatusWithdrawn, StatusOnHold,
}

// ParseStatus normalizes a status string. The legacy name pending_review maps
// to under_review; upper-case and hyphenated forms are accepted.
func ParseStatus(s string) (Status, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	if norm == "pending_review" {
		norm = string(StatusUnderReview)
	}
	for _, st := range Statuses {
		if norm == string(st) {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown permit status %q", s)
}

// Terminal reports whether no user-invoked transition leaves the status.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusExpired || s == StatusWithdrawn
}

// Approved reports whether the permit has been granted, with or without conditions.
func (s Status) Approved() bool {
	return s == StatusApproved || s == StatusApprovedWithConditions
}

// Action is something an actor can do with a permit.
type Action string

const (
	ActionView                Action = "view"
	ActionEdit                Action = "edit"
	ActionSubmit              Action = "submit"
	ActionBeginReview         Action = "begin_review"
	ActionApprove             Action = "approve"
	ActionReject              Action = "reject"
	ActionDownloadCertificate Action = "download_certificate"
	ActionRevise              Action = "revise"
	ActionWithdraw            Action = "withdraw"
	ActionHold                Action = "hold"
	ActionResume              Action = "resume"
	ActionDelete              Action = "delete"
	ActionCopy                Action = "copy"
	ActionShare               Action = "share"
)

// actionOrder fixes the render order of available actions.
var actionOrder = []Action{
	ActionView, ActionEdit, ActionSubmit, ActionBeginReview,
	ActionApprove, ActionReject, ActionDownloadCertificate,
	ActionRevise, ActionWithdraw, ActionHold, ActionResume,
	ActionDelete, ActionCopy, ActionShare,
}

// ParseAction normalizes an action string.
func ParseAction(s string) (Action, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for _, a := range actionOrder {
		if norm == string(a) {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// Soft input limits, enforced at the API boundary rather than here.
const (
	MaxWorkDescriptionLen = 1000
	MaxApprovalNotesLen   = 500
	MaxRejectionReasonLen = 1000
)

// Payload carries the optional user input for a transition.
type Payload struct {
	Notes      string
	Conditions string
	Reason     string
}

// IllegalTransitionError means the action is not available for the permit's
// current status and actor. Callers should refetch the permit and re-derive
// available actions rather than retry.
type IllegalTransitionError struct {
	Status Status
	Action Action
}

func (e IllegalTransitionError) Error() string {
	return fmt.Sprintf("action %s not available for permit status %s", e.Action, e.Status)
}

// ValidationError means the transition payload is unacceptable.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// available reports whether one action applies for (status, actor, ownership).
func available(a Action, s Status, actor authz.Actor, isOwner bool) bool {
	switch a {
	case ActionView, ActionCopy, ActionShare:
		return true
	case ActionEdit:
		if s != StatusDraft && s != StatusRejected {
			return false
		}
		return actor.Has(authz.PermUpdate) || (actor.Has(authz.PermUpdateOwn) && isOwner)
	case ActionSubmit:
		return s == StatusDraft && actor.Has(authz.PermSubmit) && isOwner
	case ActionBeginReview:
		return s == StatusSubmitted && actor.Has(authz.PermReview)
	case ActionApprove:
		return (s == StatusSubmitted || s == StatusUnderReview) && actor.Has(authz.PermApprove)
	case ActionReject:
		return (s == StatusSubmitted || s == StatusUnderReview) && actor.Has(authz.PermReject)
	case ActionDownloadCertificate:
		return s.Approved()
	case ActionRevise:
		return s == StatusRejected && isOwner
	case ActionWithdraw:
		switch s {
		case StatusSubmitted, StatusUnderReview, StatusOnHold:
			return isOwner
		}
		return false
	case ActionHold:
		return (s == StatusSubmitted || s == StatusUnderReview) && actor.Has(authz.PermReview)
	case ActionResume:
		return s == StatusOnHold && actor.Has(authz.PermReview)
	case ActionDelete:
		return (s == StatusDraft || s == StatusWithdrawn) && actor.Has(authz.PermDelete)
	}
	return false
}

// AvailableActions returns the ordered legal action set for (status, actor).
// It always contains at least view, copy and share.
func AvailableActions(s Status, actor authz.Actor, isOwner bool) []Action {
	var out []Action
	for _, a := range actionOrder {
		if available(a, s, actor, isOwner) {
			out = append(out, a)
		}
	}
	return out
}

// Apply validates and performs a transition, returning the updated permit
// value. The input permit is never mutated; on error it is returned unchanged.
// expiry is the approval validity window (see config approval.expiry_months).
func Apply(p domain.Permit, a Action, actor authz.Actor, isOwner bool, payload Payload, now time.Time, expiry time.Duration) (domain.Permit, error) {
	s, err := ParseStatus(p.Status)
	if err != nil {
		return p, err
	}
	if !available(a, s, actor, isOwner) {
		return p, IllegalTransitionError{Status: s, Action: a}
	}
	ts := now.UTC().Format(time.RFC3339)
	switch a {
	case ActionView, ActionCopy, ActionShare, ActionDownloadCertificate, ActionDelete:
		// No status change; delete removal is the caller's concern.
		return p, nil
	case ActionEdit:
		p.UpdatedAt = ts
		return p, nil
	case ActionSubmit, ActionRevise:
		p.Status = string(StatusSubmitted)
		p.SubmissionDate = &ts
		if a == ActionRevise {
			p.RejectionDate = nil
			p.RejectionReason = ""
		}
	case ActionBeginReview, ActionResume:
		p.Status = string(StatusUnderReview)
	case ActionApprove:
		p.Status = string(StatusApproved)
		if strings.TrimSpace(payload.Conditions) != "" {
			p.Status = string(StatusApprovedWithConditions)
			p.Conditions = strings.TrimSpace(payload.Conditions)
		}
		p.ApprovalDate = &ts
		p.ApprovalNotes = strings.TrimSpace(payload.Notes)
		exp := now.UTC().Add(expiry).Format(time.RFC3339)
		if p.ExpirationDate == nil {
			p.ExpirationDate = &exp
		}
	case ActionReject:
		reason := strings.TrimSpace(payload.Reason)
		if reason == "" {
			return p, ValidationError{Field: "reason", Message: "rejection reason is required"}
		}
		p.Status = string(StatusRejected)
		p.RejectionDate = &ts
		p.RejectionReason = reason
	case ActionWithdraw:
		p.Status = string(StatusWithdrawn)
	case ActionHold:
		p.Status = string(StatusOnHold)
	}
	p.UpdatedAt = ts
	return p, nil
}

// Expire moves an approved permit past its expiration date to expired.
// It is system-driven and never appears in AvailableActions. The second
// return reports whether the permit changed.
func Expire(p domain.Permit, now time.Time) (domain.Permit, bool) {
	s, err := ParseStatus(p.Status)
	if err != nil || !s.Approved() || p.ExpirationDate == nil {
		return p, false
	}
	exp, err := time.Parse(time.RFC3339, *p.ExpirationDate)
	if err != nil || now.Before(exp) {
		return p, false
	}
	p.Status = string(StatusExpired)
	p.UpdatedAt = now.UTC().Format(time.RFC3339)
	return p, true
}

// DefaultExpiry is the approval validity used when config does not override it.
const DefaultExpiry = 365 * 24 * time.Hour

package server

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"permitdesk/internal/config"
	"permitdesk/internal/domain"
	"permitdesk/internal/lifecycle"
)

type CreateApplicationRequest struct {
	ID             *string                    `json:"id,omitempty"`
	PermitTypeID   string                     `json:"permit_type_id"`
	BuildingPermit *domain.BuildingPermitInfo `json:"building_permit_info,omitempty"`
	GasPermit      *domain.GasPermitInfo      `json:"gas_permit_info,omitempty"`
}

type UpdateApplicationRequest struct {
	BuildingPermit *domain.BuildingPermitInfo `json:"building_permit_info,omitempty"`
	GasPermit      *domain.GasPermitInfo      `json:"gas_permit_info,omitempty"`
}

// DecisionRequest carries the reviewer input for approve/reject.
type DecisionRequest struct {
	Notes      string `json:"notes,omitempty"`
	Conditions string `json:"conditions,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

type ApplicationResponse struct {
	ID              string                     `json:"id"`
	PermitNumber    string                     `json:"permit_number"`
	Kind            string                     `json:"kind" enum:"building,gas"`
	Status          string                     `json:"status"`
	ApplicantID     string                     `json:"applicant_id"`
	BuildingPermit  *domain.BuildingPermitInfo `json:"building_permit_info,omitempty"`
	GasPermit       *domain.GasPermitInfo      `json:"gas_permit_info,omitempty"`
	SubmissionDate  *string                    `json:"submission_date,omitempty"`
	ApprovalDate    *string                    `json:"approval_date,omitempty"`
	RejectionDate   *string                    `json:"rejection_date,omitempty"`
	ExpirationDate  *string                    `json:"expiration_date,omitempty"`
	ApprovalNotes   string                     `json:"approval_notes,omitempty"`
	Conditions      string                     `json:"conditions,omitempty"`
	RejectionReason string                     `json:"rejection_reason,omitempty"`
	CreatedAt       string                     `json:"created_at"`
	UpdatedAt       string                     `json:"updated_at"`
}

type paginatedApplications struct {
	Items      []ApplicationResponse `json:"items"`
	NextCursor string                `json:"next_cursor,omitempty"`
}

type ActionsResponse struct {
	Actions []string `json:"actions"`
}

type PermitTypeResponse struct {
	ID          string  `json:"id"`
	Kind        string  `json:"kind"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	BaseFee     float64 `json:"base_fee"`
	ReviewDays  int     `json:"review_days"`
	Active      bool    `json:"active"`
}

// CertificateResponse is the printable approval record.
type CertificateResponse struct {
	PermitNumber   string  `json:"permit_number"`
	Kind           string  `json:"kind"`
	ApplicantID    string  `json:"applicant_id"`
	ProjectAddress string  `json:"project_address"`
	ApprovalDate   *string `json:"approval_date,omitempty"`
	ExpirationDate *string `json:"expiration_date,omitempty"`
	Conditions     string  `json:"conditions,omitempty"`
	IssuedBy       string  `json:"issued_by"`
}

type WhoAmIResponse struct {
	ActorID     string   `json:"actor_id"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
	// TokenPermissions are the credential's own permission claims, normalized
	// to the canonical names. Authorization always uses the stored role.
	TokenPermissions []string `json:"token_permissions,omitempty"`
	Routes           []string `json:"routes"`
	Source           string   `json:"source,omitempty"`
}

type StatsResponse struct {
	Counts map[string]int `json:"counts"`
}

type ActorResponse struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
}

type NotificationResponse struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	PermitID  string `json:"permit_id,omitempty"`
	Category  string `json:"category,omitempty"`
	CreatedAt string `json:"created_at"`
}

type RoleChangeRequest struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type EventResponse struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts"`
	Type       string          `json:"type"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	Payload    json.RawMessage `json:"payload"`
}

func applicationResponse(p domain.Permit) ApplicationResponse {
	return ApplicationResponse{
		ID:              p.ID,
		PermitNumber:    p.PermitNumber,
		Kind:            string(p.Kind),
		Status:          p.Status,
		ApplicantID:     p.ApplicantID,
		BuildingPermit:  p.BuildingInfo,
		GasPermit:       p.GasInfo,
		SubmissionDate:  p.SubmissionDate,
		ApprovalDate:    p.ApprovalDate,
		RejectionDate:   p.RejectionDate,
		ExpirationDate:  p.ExpirationDate,
		ApprovalNotes:   p.ApprovalNotes,
		Conditions:      p.Conditions,
		RejectionReason: p.RejectionReason,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

func mapApplications(items []domain.Permit) []ApplicationResponse {
	res := make([]ApplicationResponse, 0, len(items))
	for _, p := range items {
		res = append(res, applicationResponse(p))
	}
	return res
}

func permitTypeResponse(pt domain.PermitType) PermitTypeResponse {
	return PermitTypeResponse{
		ID:          pt.ID,
		Kind:        string(pt.Kind),
		Name:        pt.Name,
		Description: pt.Description,
		BaseFee:     pt.BaseFee,
		ReviewDays:  pt.ReviewDays,
		Active:      pt.Active,
	}
}

func mapPermitTypes(items []domain.PermitType) []PermitTypeResponse {
	res := make([]PermitTypeResponse, 0, len(items))
	for _, pt := range items {
		res = append(res, permitTypeResponse(pt))
	}
	return res
}

func eventResponse(e domain.Event) EventResponse {
	payload := json.RawMessage([]byte("{}"))
	if e.Payload != "" && json.Valid([]byte(e.Payload)) {
		payload = json.RawMessage([]byte(e.Payload))
	}
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    payload,
	}
}

func mapEvents(items []domain.Event) []EventResponse {
	res := make([]EventResponse, 0, len(items))
	for _, e := range items {
		res = append(res, eventResponse(e))
	}
	return res
}

func actionStrings(actions []lifecycle.Action) []string {
	res := make([]string, 0, len(actions))
	for _, a := range actions {
		res = append(res, string(a))
	}
	return res
}

func overLimit(s string, limit int) bool {
	return limit > 0 && utf8.RuneCountInString(s) > limit
}

func limitError(field string, limit int) lifecycle.ValidationError {
	return lifecycle.ValidationError{Field: field, Message: fmt.Sprintf("%s exceeds %d characters", field, limit)}
}

// textLimits resolves the configured text caps, falling back to the state
// machine defaults when the server runs without a config.
func textLimits(cfg *config.Config) (description, notes, reason int) {
	if cfg == nil {
		return lifecycle.MaxWorkDescriptionLen, lifecycle.MaxApprovalNotesLen, lifecycle.MaxRejectionReasonLen
	}
	return cfg.WorkDescriptionLimit(), cfg.ApprovalNotesLimit(), cfg.RejectionReasonLimit()
}

// validateApplicationPayload enforces the configured text caps before the
// payload reaches the engine.
func validateApplicationPayload(cfg *config.Config, building *domain.BuildingPermitInfo, gas *domain.GasPermitInfo) error {
	limit, _, _ := textLimits(cfg)
	if building != nil && overLimit(building.WorkDescription, limit) {
		return limitError("work_description", limit)
	}
	if gas != nil && overLimit(gas.WorkDescription, limit) {
		return limitError("work_description", limit)
	}
	return nil
}

func validateDecisionPayload(cfg *config.Config, req DecisionRequest) error {
	_, notesLimit, reasonLimit := textLimits(cfg)
	if overLimit(req.Notes, notesLimit) {
		return limitError("notes", notesLimit)
	}
	if overLimit(req.Conditions, notesLimit) {
		return limitError("conditions", notesLimit)
	}
	if overLimit(req.Reason, reasonLimit) {
		return limitError("reason", reasonLimit)
	}
	return nil
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

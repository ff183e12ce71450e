package domain

import "fmt"

// PermitKind distinguishes the two application payloads.
type PermitKind string

const (
	KindBuilding PermitKind = "building"
	KindGas      PermitKind = "gas"
)

func (k PermitKind) Valid() bool {
	return k == KindBuilding || k == KindGas
}

// NumberPrefix is the display prefix used in permit numbers.
func (k PermitKind) NumberPrefix() string {
	if k == KindGas {
		return "GP"
	}
	return "BP"
}

// PermitNumber formats the display number for a permit sequence id, e.g. BP000042.
func PermitNumber(kind PermitKind, seq int64) string {
	return fmt.Sprintf("%s%06d", kind.NumberPrefix(), seq)
}

// BuildingPermitInfo is the building-specific application payload.
type BuildingPermitInfo struct {
	ProjectAddress  string  `json:"project_address"`
	WorkDescription string  `json:"work_description"`
	ProjectCost     float64 `json:"project_cost"`
	SquareFootage   *int    `json:"square_footage,omitempty"`
	Stories         *int    `json:"stories,omitempty"`
	ContractorName  string  `json:"contractor_name,omitempty"`
}

// GasPermitInfo is the gas-specific application payload.
type GasPermitInfo struct {
	ProjectAddress  string   `json:"project_address"`
	WorkDescription string   `json:"work_description"`
	ProjectCost     float64  `json:"project_cost"`
	ApplianceCount  *int     `json:"appliance_count,omitempty"`
	LinePressurePSI *float64 `json:"line_pressure_psi,omitempty"`
	ContractorName  string   `json:"contractor_name,omitempty"`
}

// Permit is the application record whose lifecycle the engine governs.
// Exactly one of BuildingInfo/GasInfo is set, matching Kind.
type Permit struct {
	ID              string              `json:"id"`
	PermitNumber    string              `json:"permit_number"`
	Kind            PermitKind          `json:"kind" enum:"building,gas"`
	Status          string              `json:"status" enum:"draft,submitted,under_review,approved,approved_with_conditions,rejected,expired,withdrawn,on_hold"`
	ApplicantID     string              `json:"applicant_id"`
	BuildingInfo    *BuildingPermitInfo `json:"building_permit_info,omitempty"`
	GasInfo         *GasPermitInfo      `json:"gas_permit_info,omitempty"`
	SubmissionDate  *string             `json:"submission_date,omitempty" format:"date-time"`
	ApprovalDate    *string             `json:"approval_date,omitempty" format:"date-time"`
	RejectionDate   *string             `json:"rejection_date,omitempty" format:"date-time"`
	ExpirationDate  *string             `json:"expiration_date,omitempty" format:"date-time"`
	ApprovalNotes   string              `json:"approval_notes,omitempty"`
	Conditions      string              `json:"conditions,omitempty"`
	RejectionReason string              `json:"rejection_reason,omitempty"`
	CreatedAt       string              `json:"created_at" format:"date-time"`
	UpdatedAt       string              `json:"updated_at" format:"date-time"`
}

// ProjectCost returns the cost from whichever payload is present.
func (p Permit) ProjectCost() float64 {
	switch {
	case p.BuildingInfo != nil:
		return p.BuildingInfo.ProjectCost
	case p.GasInfo != nil:
		return p.GasInfo.ProjectCost
	}
	return 0
}

// ProjectAddress returns the site address from whichever payload is present.
func (p Permit) ProjectAddress() string {
	switch {
	case p.BuildingInfo != nil:
		return p.BuildingInfo.ProjectAddress
	case p.GasInfo != nil:
		return p.GasInfo.ProjectAddress
	}
	return ""
}

// WorkDescription returns the described scope of work from whichever payload is present.
func (p Permit) WorkDescription() string {
	switch {
	case p.BuildingInfo != nil:
		return p.BuildingInfo.WorkDescription
	case p.GasInfo != nil:
		return p.GasInfo.WorkDescription
	}
	return ""
}

// PermitType is a catalog entry describing an offered permit kind.
type PermitType struct {
	ID          string     `json:"id"`
	Kind        PermitKind `json:"kind" enum:"building,gas"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	BaseFee     float64    `json:"base_fee"`
	ReviewDays  int        `json:"review_days"`
	Active      bool       `json:"active"`
	CreatedAt   string     `json:"created_at" format:"date-time"`
}

// Actor is a registered user with exactly one primary role.
type Actor struct {
	ID        string `json:"id"`
	Role      string `json:"role" enum:"applicant,contractor,reviewer,admin"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Event is an immutable audit entry appended on every state change.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// Notification is a user-facing status-change message.
type Notification struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	PermitID  string `json:"permit_id,omitempty"`
	Category  string `json:"category,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

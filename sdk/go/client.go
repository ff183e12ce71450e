package permitdesksdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Permitdesk HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
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

// Application represents the API application model.
type Application struct {
	ID              string              `json:"id"`
	PermitNumber    string              `json:"permit_number"`
	Kind            string              `json:"kind"`
	Status          string              `json:"status"`
	ApplicantID     string              `json:"applicant_id"`
	BuildingPermit  *BuildingPermitInfo `json:"building_permit_info,omitempty"`
	GasPermit       *GasPermitInfo      `json:"gas_permit_info,omitempty"`
	SubmissionDate  *string             `json:"submission_date,omitempty"`
	ApprovalDate    *string             `json:"approval_date,omitempty"`
	ExpirationDate  *string             `json:"expiration_date,omitempty"`
	ApprovalNotes   string              `json:"approval_notes,omitempty"`
	Conditions      string              `json:"conditions,omitempty"`
	RejectionReason string              `json:"rejection_reason,omitempty"`
	CreatedAt       string              `json:"created_at"`
	UpdatedAt       string              `json:"updated_at"`
}

// PermitType is a catalog entry.
type PermitType struct {
	ID          string  `json:"id"`
	Kind        string  `json:"kind"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	BaseFee     float64 `json:"base_fee"`
	ReviewDays  int     `json:"review_days"`
	Active      bool    `json:"active"`
}

// Certificate is the printable approval record.
type Certificate struct {
	PermitNumber   string  `json:"permit_number"`
	Kind           string  `json:"kind"`
	ApplicantID    string  `json:"applicant_id"`
	ProjectAddress string  `json:"project_address"`
	ApprovalDate   *string `json:"approval_date,omitempty"`
	ExpirationDate *string `json:"expiration_date,omitempty"`
	Conditions     string  `json:"conditions,omitempty"`
	IssuedBy       string  `json:"issued_by"`
}

// WhoAmI is the current principal snapshot.
type WhoAmI struct {
	ActorID     string   `json:"actor_id"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
	Routes      []string `json:"routes"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedApplications wraps list responses with cursors.
type PaginatedApplications struct {
	Items      []Application `json:"items"`
	NextCursor string        `json:"next_cursor"`
}

// CreateBuildingApplication drafts a building permit application.
func (c *Client) CreateBuildingApplication(ctx context.Context, permitTypeID string, info BuildingPermitInfo) (Application, error) {
	body := map[string]any{
		"permit_type_id":       permitTypeID,
		"building_permit_info": info,
	}
	var resp Application
	err := c.do(ctx, http.MethodPost, "applications", body, &resp)
	return resp, err
}

// CreateGasApplication drafts a gas permit application.
func (c *Client) CreateGasApplication(ctx context.Context, permitTypeID string, info GasPermitInfo) (Application, error) {
	body := map[string]any{
		"permit_type_id":  permitTypeID,
		"gas_permit_info": info,
	}
	var resp Application
	err := c.do(ctx, http.MethodPost, "applications", body, &resp)
	return resp, err
}

// GetApplication fetches an application by id.
func (c *Client) GetApplication(ctx context.Context, id string) (Application, error) {
	var resp Application
	err := c.do(ctx, http.MethodGet, "applications/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListApplications returns a paginated application listing.
func (c *Client) ListApplications(ctx context.Context, status string, limit int, cursor string) (PaginatedApplications, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "applications"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedApplications
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Actions returns the actions available to the caller on an application.
func (c *Client) Actions(ctx context.Context, id string) ([]string, error) {
	var resp struct {
		Actions []string `json:"actions"`
	}
	err := c.do(ctx, http.MethodGet, "applications/"+url.PathEscape(id)+"/actions", nil, &resp)
	return resp.Actions, err
}

// Submit submits a draft for review.
func (c *Client) Submit(ctx context.Context, id string) (Application, error) {
	return c.transition(ctx, id, "submit", nil)
}

// Review begins reviewing a submitted application.
func (c *Client) Review(ctx context.Context, id string) (Application, error) {
	return c.transition(ctx, id, "review", nil)
}

// Approve approves an application. Non-empty conditions produce
// approved_with_conditions.
func (c *Client) Approve(ctx context.Context, id, notes, conditions string) (Application, error) {
	return c.transition(ctx, id, "approve", map[string]any{
		"notes":      notes,
		"conditions": conditions,
	})
}

// Reject rejects an application; reason is required.
func (c *Client) Reject(ctx context.Context, id, reason string) (Application, error) {
	return c.transition(ctx, id, "reject", map[string]any{"reason": reason})
}

// Withdraw withdraws the caller's own application.
func (c *Client) Withdraw(ctx context.Context, id string) (Application, error) {
	return c.transition(ctx, id, "withdraw", nil)
}

// Revise resubmits a rejected application.
func (c *Client) Revise(ctx context.Context, id string) (Application, error) {
	return c.transition(ctx, id, "revise", nil)
}

func (c *Client) transition(ctx context.Context, id, action string, body map[string]any) (Application, error) {
	if body == nil {
		body = map[string]any{}
	}
	var resp Application
	endpoint := fmt.Sprintf("applications/%s/%s", url.PathEscape(id), action)
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Certificate downloads the approval certificate.
func (c *Client) Certificate(ctx context.Context, id string) (Certificate, error) {
	var resp Certificate
	err := c.do(ctx, http.MethodGet, "applications/"+url.PathEscape(id)+"/certificate", nil, &resp)
	return resp, err
}

// PermitTypes lists the active permit type catalog.
func (c *Client) PermitTypes(ctx context.Context) ([]PermitType, error) {
	var resp []PermitType
	err := c.do(ctx, http.MethodGet, "permit-types", nil, &resp)
	return resp, err
}

// Me returns the current principal.
func (c *Client) Me(ctx context.Context) (WhoAmI, error) {
	var resp WhoAmI
	err := c.do(ctx, http.MethodGet, "me", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	reqURL := c.base() + "/v1/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

package server

import (
	"strings"
	"testing"

	"permitdesk/internal/domain"
	"permitdesk/internal/lifecycle"
)

func TestValidatePayloadsWithoutConfig(t *testing.T) {
	building := &domain.BuildingPermitInfo{
		ProjectAddress:  "12 Elm St",
		WorkDescription: strings.Repeat("x", lifecycle.MaxWorkDescriptionLen+1),
	}
	if err := validateApplicationPayload(nil, building, nil); err == nil {
		t.Fatalf("oversized description should fail without a config")
	}
	building.WorkDescription = "replace water heater"
	if err := validateApplicationPayload(nil, building, nil); err != nil {
		t.Fatalf("valid payload: %v", err)
	}

	req := DecisionRequest{Reason: strings.Repeat("y", lifecycle.MaxRejectionReasonLen+1)}
	if err := validateDecisionPayload(nil, req); err == nil {
		t.Fatalf("oversized reason should fail without a config")
	}
	if err := validateDecisionPayload(nil, DecisionRequest{Reason: "incomplete plans"}); err != nil {
		t.Fatalf("valid decision: %v", err)
	}
}

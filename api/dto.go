/*
dto.go - Request bodies and small response payloads

PURPOSE:
  JSON shapes that exist only at the HTTP boundary. Domain entities
  (pto.User, pto.Team, pto.Request) are returned as they are; these types
  cover request bodies and the few payloads that are not entities.

NAMING CONVENTION:
  - *Body: Request body types from clients
  - *DTO:  Response payloads carried in the result envelope

VALIDATION:
  Validation is done by the pto services. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - pto/errors.go: Result envelope
*/
package api

import (
	"github.com/warp/pto-service/pto"
)

// =============================================================================
// REQUEST BODIES
// =============================================================================

// ApproveBody names the approver. The caller's account id is used when empty.
type ApproveBody struct {
	ApproverID string `json:"approver_id"`
}

// DeclineBody names the decliner and carries the optional reason.
type DeclineBody struct {
	DeclinerID string `json:"decliner_id"`
	Reason     string `json:"reason"`
}

// MemberBody adds a user to a team.
type MemberBody struct {
	UserID string   `json:"user_id"`
	Role   pto.Role `json:"role"`
}

// =============================================================================
// RESPONSE PAYLOADS
// =============================================================================

type DeleteDTO struct {
	Deleted bool `json:"deleted"`
}

type DeliveryDTO struct {
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}

type HealthDTO struct {
	Status  string `json:"status"`
	Storage string `json:"storage"`
}

package dto

import "infothon/internal/model"

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	Token string `json:"token"`
	Role  string `json:"role"`
}

type ScanRequest struct {
	Payload string `json:"payload" validate:"required"`
}

type TicketLookupResponse struct {
	TicketID         string              `json:"ticket_id"`
	Found            bool                `json:"found"`
	Ticket           *model.Registration `json:"ticket,omitempty"`
	AlreadyCheckedIn bool                `json:"already_checked_in"`
	FullyCheckedIn   bool                `json:"fully_checked_in"`
	LegacyPayload    bool                `json:"legacy_payload,omitempty"`
}

type CheckInResponse struct {
	TicketID string              `json:"ticket_id"`
	Slot     int                 `json:"slot,omitempty"`
	Changed  bool                `json:"changed"`
	Ticket   *model.Registration `json:"ticket"`
}

type PurchasedEventsResponse struct {
	PurchasedEvents []string `json:"purchased_events"`
}

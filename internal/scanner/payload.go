package scanner

import (
	"encoding/json"
	"errors"
	"strings"

	"infothon/internal/ticketid"
)

var ErrInvalidPayload = errors.New("Invalid QR format")

// Payload is what a scanned code carries. Current tickets encode the bare id; older
// printed tickets carry a JSON descriptor.
type Payload struct {
	TicketID  string `json:"ticketId"`
	Event     string `json:"event,omitempty"`
	EventName string `json:"eventName,omitempty"`
	Attendee  string `json:"attendee,omitempty"`
	Email     string `json:"email,omitempty"`
	Date      string `json:"date,omitempty"`
	Verified  bool   `json:"verified,omitempty"`
	IssuedAt  string `json:"issuedAt,omitempty"`
	Legacy    bool   `json:"-"`
}

func ParsePayload(raw string) (Payload, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") {
		var p Payload
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return Payload{}, ErrInvalidPayload
		}
		p.TicketID = strings.TrimSpace(p.TicketID)
		if p.TicketID == "" {
			return Payload{}, ErrInvalidPayload
		}
		p.Legacy = true
		return p, nil
	}
	if !ticketid.Valid(raw) {
		return Payload{}, ErrInvalidPayload
	}
	return Payload{TicketID: raw}, nil
}

package dto

import (
	"encoding/json"
	"time"
)

const (
	MsgCheckoutExpire     = "checkout.expire"
	MsgTicketsIssued      = "tickets.issued"
	MsgRegistrationFailed = "registration.failed"
)

// Message is the envelope every queue payload travels in.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type CheckoutExpireMessage struct {
	SessionID string    `json:"session_id"`
	Kind      string    `json:"kind"`
	ExpireAt  time.Time `json:"expire_at"`
}

type IssuedTicket struct {
	TicketID  string `json:"ticket_id"`
	EventName string `json:"event_name"`
	EventDate string `json:"event_date"`
	Attendee  string `json:"attendee"`
}

type TicketsIssuedMessage struct {
	SessionID string         `json:"session_id"`
	Email     string         `json:"email"`
	Name      string         `json:"name"`
	Tickets   []IssuedTicket `json:"tickets"`
}

type RegistrationFailedMessage struct {
	SessionID string   `json:"session_id"`
	UserID    string   `json:"user_id"`
	Email     string   `json:"email"`
	OrderID   string   `json:"order_id"`
	PaymentID string   `json:"payment_id"`
	Amount    int64    `json:"amount"`
	TicketIDs []string `json:"ticket_ids"`
	Reason    string   `json:"reason"`
}

func NewMessage(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Type: msgType, Payload: raw})
}

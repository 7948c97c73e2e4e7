package model

import "time"

const MaxTeamMembers = 5

const (
	PaymentStatusPaid = "paid"

	SessionKindIndividual = "individual"
	SessionKindTeam       = "team"

	SessionPending   = "pending"
	SessionPaid      = "paid"
	SessionCompleted = "completed"
	SessionPartial   = "partial"
	SessionFailed    = "failed"
	SessionAbandoned = "abandoned"
)

type EventPackage struct {
	ID          string `yaml:"id" json:"id"`
	Title       string `yaml:"title" json:"title"`
	Category    string `yaml:"category" json:"category"`
	Date        string `yaml:"date" json:"date"`
	Price       int64  `yaml:"price" json:"price"`
	TeamMinSize int    `yaml:"team_min_size,omitempty" json:"team_min_size,omitempty"`
	TeamMaxSize int    `yaml:"team_max_size,omitempty" json:"team_max_size,omitempty"`
}

// IsTeam reports whether the package is sold per team rather than per attendee.
func (e EventPackage) IsTeam() bool {
	return e.TeamMaxSize > 1
}

type TeamMember struct {
	Slot     int    `json:"slot"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	College  string `json:"college,omitempty"`
	Verified bool   `json:"verified"`
}

type Registration struct {
	TicketID      string       `db:"ticket_id" json:"ticket_id"`
	UserID        string       `db:"user_id" json:"user_id"`
	UserEmail     string       `db:"user_email" json:"user_email"`
	AttendeeName  string       `db:"attendee_name" json:"attendee_name"`
	EventID       string       `db:"event_id" json:"event_id"`
	EventName     string       `db:"event_name" json:"event_name"`
	EventDate     string       `db:"event_date" json:"event_date"`
	Verified      bool         `db:"verified" json:"verified"`
	IsTeamPass    bool         `db:"is_team_pass" json:"is_team_pass"`
	TeamID        string       `db:"team_id" json:"team_id,omitempty"`
	TeamName      string       `db:"team_name" json:"team_name,omitempty"`
	TeamSize      int          `db:"team_size" json:"team_size,omitempty"`
	Members       []TeamMember `json:"members,omitempty"`
	DetailsLocked bool         `db:"details_locked" json:"details_locked"`
	PaymentStatus string       `db:"payment_status" json:"payment_status"`
	AmountPaid    int64        `db:"amount_paid" json:"amount_paid"`
	PaymentID     string       `db:"payment_id" json:"payment_id"`
	CreatedAt     time.Time    `db:"created_at" json:"created_at"`
}

// Member returns the populated member in the given 1-based slot.
func (r *Registration) Member(slot int) (*TeamMember, bool) {
	for i := range r.Members {
		if r.Members[i].Slot == slot {
			return &r.Members[i], true
		}
	}
	return nil, false
}

// FullyCheckedIn is derived, never stored: an individual ticket is checked in when
// verified, a team when every populated member slot is.
func (r *Registration) FullyCheckedIn() bool {
	if !r.IsTeamPass {
		return r.Verified
	}
	if len(r.Members) == 0 {
		return false
	}
	for _, m := range r.Members {
		if !m.Verified {
			return false
		}
	}
	return true
}

type CheckoutSession struct {
	ID        string    `db:"id" json:"id"`
	Kind      string    `db:"kind" json:"kind"`
	UserID    string    `db:"user_id" json:"user_id"`
	UserEmail string    `db:"user_email" json:"user_email"`
	OrderID   string    `db:"order_id" json:"order_id"`
	Amount    int64     `db:"amount" json:"amount"`
	Currency  string    `db:"currency" json:"currency"`
	Status    string    `db:"status" json:"status"`
	PaymentID string    `db:"payment_id" json:"payment_id,omitempty"`
	Plan      []byte    `db:"plan" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
}

type UserProfile struct {
	FullName        string   `json:"full_name,omitempty"`
	College         string   `json:"college,omitempty"`
	CC              string   `json:"cc,omitempty"`
	PurchasedEvents []string `json:"purchased_events,omitempty"`
}

package team

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"infothon/internal/catalog"
	"infothon/internal/checkout"
	"infothon/internal/identity"
	"infothon/internal/model"
	"infothon/internal/payment"
	"infothon/internal/repo"
	"infothon/internal/ticketid"
	"infothon/pkg/validator"
)

var tracer = otel.Tracer("infothon/team")

var (
	ErrNotTeamEvent       = errors.New("event is not a team event")
	ErrRegistrationFailed = errors.New("registration failed, contact support")
)

type Member struct {
	Name    string `json:"name" validate:"required"`
	Email   string `json:"email" validate:"required,email"`
	Phone   string `json:"phone" validate:"required,phone"`
	College string `json:"college" validate:"required"`
}

type Roster struct {
	EventID  string   `json:"event_id"`
	TeamName string   `json:"team_name"`
	Members  []Member `json:"members"`
}

// ValidationError carries every violation found in a roster at once.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "invalid team registration: " + strings.Join(e.Violations, "; ")
}

// Validate reports all roster problems together so the form can show them in one pass.
func Validate(ctx context.Context, ev model.EventPackage, r Roster) error {
	var violations []string
	if strings.TrimSpace(r.TeamName) == "" {
		violations = append(violations, "Team name is required")
	}
	if n := len(r.Members); n < ev.TeamMinSize || n > ev.TeamMaxSize {
		violations = append(violations, fmt.Sprintf("Team must have between %d and %d members, got %d", ev.TeamMinSize, ev.TeamMaxSize, n))
	}
	for i, m := range r.Members {
		m = trimMember(m)
		for _, msg := range validator.ValidateAll(ctx, m) {
			violations = append(violations, fmt.Sprintf("Member %d: %s", i+1, msg))
		}
	}
	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}

func trimMember(m Member) Member {
	return Member{
		Name:    strings.TrimSpace(m.Name),
		Email:   strings.TrimSpace(m.Email),
		Phone:   strings.TrimSpace(m.Phone),
		College: strings.TrimSpace(m.College),
	}
}

type Deps struct {
	Catalog   *catalog.Catalog
	Repo      repo.Repository
	Payments  payment.Gateway
	Purchases *checkout.Purchases
	IDs       *ticketid.Generator
	Publisher checkout.Publisher
	Log       *zerolog.Logger
}

type Orchestrator struct {
	Deps
	cfg checkout.Config
	now func() time.Time
}

func NewOrchestrator(deps Deps, cfg checkout.Config) *Orchestrator {
	if deps.Log == nil {
		nop := zerolog.Nop()
		deps.Log = &nop
	}
	if deps.IDs == nil {
		deps.IDs = ticketid.New()
	}
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 15 * time.Minute
	}
	return &Orchestrator{Deps: deps, cfg: cfg, now: time.Now}
}

// rosterPlan is stored with the session; the roster is final once it is paid for.
type rosterPlan struct {
	TeamID    string   `json:"team_id"`
	TicketID  string   `json:"ticket_id"`
	EventID   string   `json:"event_id"`
	EventName string   `json:"event_name"`
	EventDate string   `json:"event_date"`
	TeamName  string   `json:"team_name"`
	Price     int64    `json:"price"`
	Members   []Member `json:"members"`
}

type Result struct {
	SessionID       string              `json:"session_id"`
	Status          string              `json:"status"`
	Registration    *model.Registration `json:"registration"`
	PurchasedEvents []string            `json:"purchased_events"`
}

// Start validates the roster and opens a gateway order for the flat team price.
func (o *Orchestrator) Start(ctx context.Context, u *identity.User, r Roster) (*checkout.OrderHandle, error) {
	ctx, span := tracer.Start(ctx, "team.start")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", u.ID), attribute.String("event_id", r.EventID))

	ev, err := o.Catalog.GetEvent(r.EventID)
	if err != nil {
		return nil, err
	}
	if !ev.IsTeam() {
		return nil, fmt.Errorf("%w: %s", ErrNotTeamEvent, ev.ID)
	}
	if err := Validate(ctx, ev, r); err != nil {
		return nil, err
	}

	sessionID := uuid.NewString()
	order, err := o.Payments.CreateOrder(ctx, ev.Price, o.cfg.Currency, sessionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create order")
		o.Log.Error().Err(err).Str("user_id", u.ID).Str("event_id", ev.ID).Msg("failed to create team payment order")
		return nil, fmt.Errorf("create order: %w", err)
	}

	members := make([]Member, len(r.Members))
	for i, m := range r.Members {
		members[i] = trimMember(m)
	}
	plan := rosterPlan{
		TeamID:    o.IDs.Team(ev.ID),
		TicketID:  o.IDs.Ticket(ev.ID, 0),
		EventID:   ev.ID,
		EventName: ev.Title,
		EventDate: ev.Date,
		TeamName:  strings.TrimSpace(r.TeamName),
		Price:     ev.Price,
		Members:   members,
	}
	planJSON, err := json.Marshal(plan)
	if err != nil {
		return nil, fmt.Errorf("encode roster plan: %w", err)
	}

	now := o.now().UTC()
	session := &model.CheckoutSession{
		ID:        sessionID,
		Kind:      model.SessionKindTeam,
		UserID:    u.ID,
		UserEmail: u.Email,
		OrderID:   order.ID,
		Amount:    ev.Price,
		Currency:  o.cfg.Currency,
		Status:    model.SessionPending,
		Plan:      planJSON,
		CreatedAt: now,
		ExpiresAt: now.Add(o.cfg.SessionTTL),
	}
	if err := o.Repo.CreateCheckoutSession(ctx, session); err != nil {
		return nil, err
	}
	checkout.PublishExpiry(o.Publisher, o.Log, session, o.cfg.SessionTTL)

	o.Log.Info().Str("session_id", sessionID).Str("team_id", plan.TeamID).Int("team_size", len(members)).Msg("team registration started")
	return &checkout.OrderHandle{
		SessionID: sessionID,
		OrderID:   order.ID,
		Amount:    ev.Price,
		Currency:  o.cfg.Currency,
		Key:       o.Payments.KeyID(),
	}, nil
}

func (p rosterPlan) registration(u *identity.User, paymentID string, createdAt time.Time) *model.Registration {
	reg := &model.Registration{
		TicketID:      p.TicketID,
		UserID:        u.ID,
		UserEmail:     u.Email,
		EventID:       p.EventID,
		EventName:     p.EventName,
		EventDate:     p.EventDate,
		IsTeamPass:    true,
		TeamID:        p.TeamID,
		TeamName:      p.TeamName,
		TeamSize:      len(p.Members),
		DetailsLocked: true,
		PaymentStatus: model.PaymentStatusPaid,
		AmountPaid:    p.Price,
		PaymentID:     paymentID,
		CreatedAt:     createdAt,
	}
	for i, m := range p.Members {
		reg.Members = append(reg.Members, model.TeamMember{
			Slot:    i + 1,
			Name:    m.Name,
			Email:   m.Email,
			Phone:   m.Phone,
			College: m.College,
		})
	}
	if len(p.Members) > 0 {
		reg.AttendeeName = p.Members[0].Name
	}
	return reg
}

// Complete writes the single team row after the payment is verified. A failed insert
// leaves a captured payment without a ticket; it is reported for support follow-up.
func (o *Orchestrator) Complete(ctx context.Context, token string, u *identity.User, sessionID string, conf payment.Confirmation) (*Result, error) {
	ctx, span := tracer.Start(ctx, "team.complete")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", sessionID))

	session, err := o.Repo.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != u.ID {
		return nil, checkout.ErrSessionForbidden
	}
	if session.Kind != model.SessionKindTeam {
		return nil, checkout.ErrWrongSessionKind
	}
	var plan rosterPlan
	if err := json.Unmarshal(session.Plan, &plan); err != nil {
		return nil, fmt.Errorf("decode roster plan: %w", err)
	}

	if session.Status == model.SessionCompleted {
		reg, err := o.Repo.GetRegistration(ctx, plan.TicketID)
		if err != nil {
			return nil, err
		}
		purchased, _ := o.Purchases.List(ctx, token, u.ID)
		return &Result{SessionID: session.ID, Status: session.Status, Registration: reg, PurchasedEvents: purchased}, nil
	}

	if err := checkout.VerifySessionPayment(ctx, o.Payments, session, conf); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "verify payment")
		o.Log.Warn().Err(err).Str("session_id", sessionID).Msg("team payment verification failed")
		return nil, err
	}
	if session.PaymentID == "" {
		session.PaymentID = conf.PaymentID
		if err := o.Repo.UpdateCheckoutStatus(ctx, session.ID, model.SessionPaid, conf.PaymentID); err != nil {
			return nil, err
		}
	}

	purchased := o.Purchases.Record(ctx, token, u, plan.EventID)

	reg, created, err := checkout.ClaimRegistration(ctx, o.Repo, plan.registration(u, session.PaymentID, o.now().UTC()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert team registration")
		o.Log.Error().Err(err).
			Str("session_id", session.ID).
			Str("ticket_id", plan.TicketID).
			Str("team_id", plan.TeamID).
			Str("payment_id", session.PaymentID).
			Msg("failed to insert team registration after payment")
		if uerr := o.Repo.UpdateCheckoutStatus(ctx, session.ID, model.SessionFailed, ""); uerr != nil {
			o.Log.Error().Err(uerr).Str("session_id", session.ID).Msg("failed to update checkout status")
		}
		checkout.PublishFailed(o.Publisher, o.Log, session, []string{plan.TicketID}, "team insert failed")
		return nil, ErrRegistrationFailed
	}

	if err := o.Repo.UpdateCheckoutStatus(ctx, session.ID, model.SessionCompleted, ""); err != nil {
		o.Log.Error().Err(err).Str("session_id", session.ID).Msg("failed to update checkout status")
	}
	if created {
		checkout.PublishIssued(o.Publisher, o.Log, session.ID, u, []model.Registration{*reg})
	}

	o.Log.Info().Str("session_id", session.ID).Str("ticket_id", reg.TicketID).Int("team_size", reg.TeamSize).Msg("team registered")
	return &Result{SessionID: session.ID, Status: model.SessionCompleted, Registration: reg, PurchasedEvents: purchased}, nil
}

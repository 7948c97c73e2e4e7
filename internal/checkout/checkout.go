package checkout

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
	"infothon/internal/dto"
	"infothon/internal/identity"
	"infothon/internal/model"
	"infothon/internal/payment"
	"infothon/internal/repo"
	"infothon/internal/ticketid"
)

var tracer = otel.Tracer("infothon/checkout")

type Deps struct {
	Catalog   *catalog.Catalog
	Repo      repo.Repository
	Payments  payment.Gateway
	Purchases *Purchases
	Carts     *CartStore
	IDs       *ticketid.Generator
	Publisher Publisher
	Log       *zerolog.Logger
}

type Config struct {
	Currency   string
	SessionTTL time.Duration
}

type Orchestrator struct {
	Deps
	cfg Config
	now func() time.Time
}

func NewOrchestrator(deps Deps, cfg Config) *Orchestrator {
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

// OrderHandle is everything the client-side payment widget needs.
type OrderHandle struct {
	SessionID string `json:"session_id"`
	OrderID   string `json:"order_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Key       string `json:"key"`
	Quote     Quote  `json:"quote"`
}

type plannedTicket struct {
	TicketID     string `json:"ticket_id"`
	EventID      string `json:"event_id"`
	EventName    string `json:"event_name"`
	EventDate    string `json:"event_date"`
	Unit         int    `json:"unit"`
	AttendeeName string `json:"attendee_name"`
	AmountPaid   int64  `json:"amount_paid"`
}

type ticketPlan struct {
	Quote   Quote           `json:"quote"`
	Tickets []plannedTicket `json:"tickets"`
}

func (p ticketPlan) eventIDs() []string {
	ids := make([]string, 0, len(p.Tickets))
	for _, t := range p.Tickets {
		ids = append(ids, t.EventID)
	}
	return identity.Dedupe(ids)
}

type Result struct {
	SessionID       string               `json:"session_id"`
	Status          string               `json:"status"`
	Tickets         []model.Registration `json:"tickets"`
	FailedTicketIDs []string             `json:"failed_ticket_ids,omitempty"`
	PurchasedEvents []string             `json:"purchased_events"`
}

func purchaserName(u *identity.User) string {
	if name := strings.TrimSpace(u.Metadata.FullName); name != "" {
		return name
	}
	return u.Email
}

// plan fixes every ticket id of the order up front, line by line and unit by unit, so a
// retried completion writes exactly the same rows.
func (o *Orchestrator) plan(u *identity.User, q Quote) ticketPlan {
	p := ticketPlan{Quote: q}
	for _, line := range q.Lines {
		unitPrice := line.UnitPrice - percentOf(line.UnitPrice, q.DiscountPct)
		for unit := 0; unit < line.Quantity; unit++ {
			suffix := 0
			if line.Quantity > 1 {
				suffix = unit + 1
			}
			attendee := purchaserName(u)
			if unit > 0 {
				attendee = fmt.Sprintf("Attendee %d", unit+1)
			}
			p.Tickets = append(p.Tickets, plannedTicket{
				TicketID:     o.IDs.Ticket(line.EventID, suffix),
				EventID:      line.EventID,
				EventName:    line.Title,
				EventDate:    line.Date,
				Unit:         unit,
				AttendeeName: attendee,
				AmountPaid:   unitPrice,
			})
		}
	}
	settleAmounts(p.Tickets, q.Total)
	return p
}

// settleAmounts nudges per-unit amounts by one at a time so they add up to the charged
// total after per-unit discount rounding.
func settleAmounts(tickets []plannedTicket, total int64) {
	if len(tickets) == 0 {
		return
	}
	var sum int64
	for _, t := range tickets {
		sum += t.AmountPaid
	}
	diff := total - sum
	for i := 0; diff != 0; i = (i + 1) % len(tickets) {
		step := int64(1)
		if diff < 0 {
			step = -1
		}
		if tickets[i].AmountPaid+step < 0 {
			continue
		}
		tickets[i].AmountPaid += step
		diff -= step
	}
}

// Start prices the cart, opens a gateway order and persists a pending session. Nothing
// is written when the gateway refuses the order.
func (o *Orchestrator) Start(ctx context.Context, u *identity.User, cart CartState) (*OrderHandle, error) {
	ctx, span := tracer.Start(ctx, "checkout.start")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", u.ID))

	q, err := PriceQuote(o.Catalog, cart)
	if err != nil {
		return nil, err
	}
	if q.Total <= 0 {
		return nil, ErrEmptyCart
	}

	sessionID := uuid.NewString()
	order, err := o.Payments.CreateOrder(ctx, q.Total, o.cfg.Currency, sessionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create order")
		o.Log.Error().Err(err).Str("user_id", u.ID).Int64("amount", q.Total).Msg("failed to create payment order")
		return nil, fmt.Errorf("create order: %w", err)
	}

	planJSON, err := json.Marshal(o.plan(u, q))
	if err != nil {
		return nil, fmt.Errorf("encode ticket plan: %w", err)
	}
	now := o.now().UTC()
	session := &model.CheckoutSession{
		ID:        sessionID,
		Kind:      model.SessionKindIndividual,
		UserID:    u.ID,
		UserEmail: u.Email,
		OrderID:   order.ID,
		Amount:    q.Total,
		Currency:  o.cfg.Currency,
		Status:    model.SessionPending,
		Plan:      planJSON,
		CreatedAt: now,
		ExpiresAt: now.Add(o.cfg.SessionTTL),
	}
	if err := o.Repo.CreateCheckoutSession(ctx, session); err != nil {
		return nil, err
	}
	PublishExpiry(o.Publisher, o.Log, session, o.cfg.SessionTTL)

	o.Log.Info().Str("session_id", sessionID).Str("order_id", order.ID).Int64("amount", q.Total).Msg("checkout started")
	return &OrderHandle{
		SessionID: sessionID,
		OrderID:   order.ID,
		Amount:    q.Total,
		Currency:  o.cfg.Currency,
		Key:       o.Payments.KeyID(),
		Quote:     q,
	}, nil
}

// Complete turns a verified payment into tickets. Inserts are sequential and
// best-effort: a failed unit is logged and skipped, tickets already written stay valid,
// and calling Complete again retries only what is missing.
func (o *Orchestrator) Complete(ctx context.Context, token string, u *identity.User, sessionID string, conf payment.Confirmation) (*Result, error) {
	ctx, span := tracer.Start(ctx, "checkout.complete")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", sessionID))

	session, err := o.Repo.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != u.ID {
		return nil, ErrSessionForbidden
	}
	if session.Kind != model.SessionKindIndividual {
		return nil, ErrWrongSessionKind
	}
	var plan ticketPlan
	if err := json.Unmarshal(session.Plan, &plan); err != nil {
		return nil, fmt.Errorf("decode ticket plan: %w", err)
	}

	if session.Status == model.SessionCompleted {
		return o.storedResult(ctx, token, u, session, plan)
	}

	if err := VerifySessionPayment(ctx, o.Payments, session, conf); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "verify payment")
		o.Log.Warn().Err(err).Str("session_id", sessionID).Msg("payment verification failed")
		return nil, err
	}
	if session.PaymentID == "" {
		session.PaymentID = conf.PaymentID
		if err := o.Repo.UpdateCheckoutStatus(ctx, session.ID, model.SessionPaid, conf.PaymentID); err != nil {
			return nil, err
		}
	}

	purchased := o.Purchases.Record(ctx, token, u, plan.eventIDs()...)

	res := &Result{SessionID: session.ID, PurchasedEvents: purchased}
	var issued []model.Registration
	now := o.now().UTC()
	for _, t := range plan.Tickets {
		reg := &model.Registration{
			TicketID:      t.TicketID,
			UserID:        u.ID,
			UserEmail:     u.Email,
			AttendeeName:  t.AttendeeName,
			EventID:       t.EventID,
			EventName:     t.EventName,
			EventDate:     t.EventDate,
			PaymentStatus: model.PaymentStatusPaid,
			AmountPaid:    t.AmountPaid,
			PaymentID:     session.PaymentID,
			CreatedAt:     now,
		}
		stored, created, err := ClaimRegistration(ctx, o.Repo, reg)
		if err != nil {
			o.Log.Error().Err(err).
				Str("session_id", session.ID).
				Str("ticket_id", t.TicketID).
				Str("event_id", t.EventID).
				Int("unit", t.Unit).
				Msg("failed to insert ticket")
			res.FailedTicketIDs = append(res.FailedTicketIDs, t.TicketID)
			continue
		}
		res.Tickets = append(res.Tickets, *stored)
		if created {
			issued = append(issued, *stored)
		}
	}

	switch {
	case len(res.FailedTicketIDs) == 0:
		res.Status = model.SessionCompleted
	case len(res.Tickets) == 0:
		res.Status = model.SessionFailed
	default:
		res.Status = model.SessionPartial
	}
	if err := o.Repo.UpdateCheckoutStatus(ctx, session.ID, res.Status, ""); err != nil {
		o.Log.Error().Err(err).Str("session_id", session.ID).Msg("failed to update checkout status")
	}
	if o.Carts != nil {
		if err := o.Carts.Clear(ctx, u.ID); err != nil {
			o.Log.Warn().Err(err).Str("user_id", u.ID).Msg("failed to clear cart")
		}
	}

	if len(issued) > 0 {
		PublishIssued(o.Publisher, o.Log, session.ID, u, issued)
	}
	if res.Status != model.SessionCompleted {
		PublishFailed(o.Publisher, o.Log, session, res.FailedTicketIDs, "ticket insert failed")
	}

	o.Log.Info().
		Str("session_id", session.ID).
		Int("issued", len(res.Tickets)).
		Int("failed", len(res.FailedTicketIDs)).
		Msg("checkout completed")
	return res, nil
}

func (o *Orchestrator) storedResult(ctx context.Context, token string, u *identity.User, s *model.CheckoutSession, plan ticketPlan) (*Result, error) {
	res := &Result{SessionID: s.ID, Status: s.Status}
	for _, t := range plan.Tickets {
		reg, err := o.Repo.GetRegistration(ctx, t.TicketID)
		if err != nil {
			if errors.Is(err, repo.ErrRegistrationNotFound) {
				res.FailedTicketIDs = append(res.FailedTicketIDs, t.TicketID)
				continue
			}
			return nil, err
		}
		if reg.UserID != u.ID {
			res.FailedTicketIDs = append(res.FailedTicketIDs, t.TicketID)
			continue
		}
		res.Tickets = append(res.Tickets, *reg)
	}
	purchased, err := o.Purchases.List(ctx, token, u.ID)
	if err != nil {
		o.Log.Warn().Err(err).Str("user_id", u.ID).Msg("failed to list purchased events")
	}
	res.PurchasedEvents = purchased
	return res, nil
}

func publish(pub Publisher, log *zerolog.Logger, msgType string, payload any, delaySeconds int) {
	if pub == nil {
		return
	}
	body, err := dto.NewMessage(msgType, payload)
	if err != nil {
		log.Error().Err(err).Str("type", msgType).Msg("failed to marshal message")
		return
	}
	if err := pub.Publish(body, delaySeconds); err != nil {
		log.Error().Err(err).Str("type", msgType).Msg("failed to publish message to RabbitMQ")
	}
}

func PublishExpiry(pub Publisher, log *zerolog.Logger, s *model.CheckoutSession, ttl time.Duration) {
	publish(pub, log, dto.MsgCheckoutExpire, dto.CheckoutExpireMessage{
		SessionID: s.ID,
		Kind:      s.Kind,
		ExpireAt:  s.ExpiresAt,
	}, int(ttl/time.Second))
}

func PublishIssued(pub Publisher, log *zerolog.Logger, sessionID string, u *identity.User, regs []model.Registration) {
	msg := dto.TicketsIssuedMessage{SessionID: sessionID, Email: u.Email, Name: purchaserName(u)}
	for _, r := range regs {
		msg.Tickets = append(msg.Tickets, dto.IssuedTicket{
			TicketID:  r.TicketID,
			EventName: r.EventName,
			EventDate: r.EventDate,
			Attendee:  r.AttendeeName,
		})
	}
	publish(pub, log, dto.MsgTicketsIssued, msg, 0)
}

func PublishFailed(pub Publisher, log *zerolog.Logger, s *model.CheckoutSession, ticketIDs []string, reason string) {
	publish(pub, log, dto.MsgRegistrationFailed, dto.RegistrationFailedMessage{
		SessionID: s.ID,
		UserID:    s.UserID,
		Email:     s.UserEmail,
		OrderID:   s.OrderID,
		PaymentID: s.PaymentID,
		Amount:    s.Amount,
		TicketIDs: ticketIDs,
		Reason:    reason,
	}, 0)
}

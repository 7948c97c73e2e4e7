package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"infothon/internal/identity"
	"infothon/internal/localcache"
	"infothon/internal/model"
	"infothon/internal/payment"
	"infothon/internal/repo"
)

var (
	ErrPaymentNotVerified = errors.New("payment not verified")
	ErrSessionForbidden   = errors.New("checkout session belongs to another user")
	ErrWrongSessionKind   = errors.New("checkout session kind mismatch")
	ErrTicketIDConflict   = errors.New("ticket id already issued to another registration")
)

// Publisher is the queue side the orchestrators publish domain events to.
type Publisher interface {
	Publish(message []byte, delaySeconds int) error
}

// Purchases keeps a user's purchased-events set in the identity profile and mirrors it
// into the local cache, which serves reads when the identity provider does not answer.
type Purchases struct {
	users identity.Gateway
	cache localcache.Storage
	log   *zerolog.Logger
}

func NewPurchases(users identity.Gateway, cache localcache.Storage, log *zerolog.Logger) *Purchases {
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	return &Purchases{users: users, cache: cache, log: log}
}

func purchasedKey(userID string) string { return "purchased:" + userID }

// Record unions eventIDs into the user's profile. The profile is fetched again first so a
// stale client session cannot drop purchases made elsewhere. Identity failures are logged
// and the cache still receives the merged set.
func (p *Purchases) Record(ctx context.Context, token string, user *identity.User, eventIDs ...string) []string {
	profile := user.Metadata
	if fresh, err := p.users.GetUser(ctx, token); err != nil {
		p.log.Warn().Err(err).Str("user_id", user.ID).Msg("failed to re-fetch user before recording purchase")
	} else {
		profile = fresh.Metadata
	}

	cached, _ := p.cached(ctx, user.ID)
	merged := identity.Union(identity.Union(profile.PurchasedEvents, cached...), eventIDs...)
	profile.PurchasedEvents = merged

	if err := p.users.UpdateUser(ctx, token, profile); err != nil {
		p.log.Error().Err(err).Str("user_id", user.ID).Strs("events", eventIDs).Msg("failed to update purchased events")
	}
	if err := p.mirror(ctx, user.ID, merged); err != nil {
		p.log.Error().Err(err).Str("user_id", user.ID).Msg("failed to mirror purchased events")
	}
	return merged
}

// List prefers the identity profile and falls back to the local mirror.
func (p *Purchases) List(ctx context.Context, token string, userID string) ([]string, error) {
	u, err := p.users.GetUser(ctx, token)
	if err == nil {
		return identity.Dedupe(u.Metadata.PurchasedEvents), nil
	}
	if errors.Is(err, identity.ErrUnauthenticated) {
		return nil, err
	}
	p.log.Warn().Err(err).Str("user_id", userID).Msg("identity unavailable, serving purchased events from cache")
	return p.cached(ctx, userID)
}

func (p *Purchases) cached(ctx context.Context, userID string) ([]string, error) {
	raw, ok, err := p.cache.Get(ctx, purchasedKey(userID))
	if err != nil || !ok {
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("decode cached purchases: %w", err)
	}
	return ids, nil
}

func (p *Purchases) mirror(ctx context.Context, userID string, ids []string) error {
	raw, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return p.cache.Set(ctx, purchasedKey(userID), string(raw))
}

// VerifySessionPayment checks a confirmation against a pending session. Sessions that
// already carry a payment id were verified on an earlier attempt.
func VerifySessionPayment(ctx context.Context, payments payment.Gateway, s *model.CheckoutSession, conf payment.Confirmation) error {
	if s.PaymentID != "" {
		if conf.PaymentID != "" && conf.PaymentID != s.PaymentID {
			return fmt.Errorf("%w: session already paid by %s", ErrPaymentNotVerified, s.PaymentID)
		}
		return nil
	}
	if conf.OrderID != s.OrderID {
		return fmt.Errorf("%w: order %q does not belong to session", ErrPaymentNotVerified, conf.OrderID)
	}
	if err := payments.Verify(ctx, conf, s.Amount); err != nil {
		if errors.Is(err, payment.ErrGatewayUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrPaymentNotVerified, err)
	}
	return nil
}

// ClaimRegistration inserts reg. When a row with the same ticket id already exists it is
// adopted only if it was written for the same buyer, event and payment; created reports
// whether this call wrote the row.
func ClaimRegistration(ctx context.Context, store repo.Repository, reg *model.Registration) (*model.Registration, bool, error) {
	created, err := store.InsertRegistration(ctx, reg)
	if err != nil {
		return nil, false, err
	}
	if created {
		return reg, true, nil
	}
	existing, err := store.GetRegistration(ctx, reg.TicketID)
	if err != nil {
		return nil, false, err
	}
	if existing.UserID != reg.UserID || existing.EventID != reg.EventID || existing.PaymentID != reg.PaymentID {
		return nil, false, fmt.Errorf("%w: %s", ErrTicketIDConflict, reg.TicketID)
	}
	return existing, false, nil
}

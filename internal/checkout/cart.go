package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"infothon/internal/catalog"
	"infothon/internal/localcache"
)

const (
	MinQuantity = 1
	MaxQuantity = 5
)

var (
	ErrEmptyCart       = errors.New("cart is empty")
	ErrInvalidQuantity = errors.New("quantity must be between 1 and 5")
	ErrUnknownCoupon   = errors.New("unknown coupon code")
	ErrTeamEventInCart = errors.New("team events are registered through the team flow")
)

var coupons = map[string]int{
	"INFOTHON10":  10,
	"EARLYBIRD20": 20,
	"CAMPUS15":    15,
}

// LookupCoupon matches a code case-insensitively and returns its percentage.
func LookupCoupon(code string) (int, bool) {
	pct, ok := coupons[strings.ToUpper(strings.TrimSpace(code))]
	return pct, ok
}

type CartLine struct {
	EventID  string `json:"event_id" validate:"required"`
	Quantity int    `json:"quantity" validate:"positive"`
}

type CartState struct {
	Lines  []CartLine `json:"lines" validate:"dive"`
	Coupon string     `json:"coupon,omitempty"`
}

type QuoteLine struct {
	EventID   string `json:"event_id"`
	Title     string `json:"title"`
	Date      string `json:"date"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	LineTotal int64  `json:"line_total"`
}

type Quote struct {
	Lines       []QuoteLine `json:"lines"`
	Subtotal    int64       `json:"subtotal"`
	Coupon      string      `json:"coupon,omitempty"`
	DiscountPct int         `json:"discount_pct"`
	Discount    int64       `json:"discount"`
	Total       int64       `json:"total"`
}

// PriceQuote prices a cart against the catalog. Everything here is local: an unknown
// coupon is reported before any gateway is contacted.
func PriceQuote(cat *catalog.Catalog, cart CartState) (Quote, error) {
	if len(cart.Lines) == 0 {
		return Quote{}, ErrEmptyCart
	}

	lines, err := mergeLines(cart.Lines)
	if err != nil {
		return Quote{}, err
	}

	var q Quote
	for _, line := range lines {
		ev, err := cat.GetEvent(line.EventID)
		if err != nil {
			return Quote{}, err
		}
		if ev.IsTeam() {
			return Quote{}, fmt.Errorf("%w: %s", ErrTeamEventInCart, ev.ID)
		}
		total := ev.Price * int64(line.Quantity)
		q.Lines = append(q.Lines, QuoteLine{
			EventID:   ev.ID,
			Title:     ev.Title,
			Date:      ev.Date,
			Quantity:  line.Quantity,
			UnitPrice: ev.Price,
			LineTotal: total,
		})
		q.Subtotal += total
	}

	if code := strings.TrimSpace(cart.Coupon); code != "" {
		pct, ok := LookupCoupon(code)
		if !ok {
			return Quote{}, fmt.Errorf("%w: %q", ErrUnknownCoupon, code)
		}
		q.Coupon = strings.ToUpper(code)
		q.DiscountPct = pct
		q.Discount = percentOf(q.Subtotal, pct)
	}
	q.Total = q.Subtotal - q.Discount
	return q, nil
}

// mergeLines folds repeated events into one line so the per-event limit holds for the
// whole cart, keeping first-seen order.
func mergeLines(in []CartLine) ([]CartLine, error) {
	out := make([]CartLine, 0, len(in))
	index := make(map[string]int, len(in))
	for _, line := range in {
		if line.Quantity < MinQuantity {
			return nil, fmt.Errorf("%w: %s x%d", ErrInvalidQuantity, line.EventID, line.Quantity)
		}
		if i, ok := index[line.EventID]; ok {
			out[i].Quantity += line.Quantity
			continue
		}
		index[line.EventID] = len(out)
		out = append(out, line)
	}
	for _, line := range out {
		if line.Quantity > MaxQuantity {
			return nil, fmt.Errorf("%w: %s x%d", ErrInvalidQuantity, line.EventID, line.Quantity)
		}
	}
	return out, nil
}

// percentOf rounds half up, matching the storefront's displayed totals.
func percentOf(amount int64, pct int) int64 {
	return (amount*int64(pct) + 50) / 100
}

// CartStore keeps each user's cart behind the storage port.
type CartStore struct {
	storage localcache.Storage
}

func NewCartStore(storage localcache.Storage) *CartStore {
	return &CartStore{storage: storage}
}

func cartKey(userID string) string { return "cart:" + userID }

func (s *CartStore) Load(ctx context.Context, userID string) (CartState, error) {
	raw, ok, err := s.storage.Get(ctx, cartKey(userID))
	if err != nil || !ok {
		return CartState{}, err
	}
	var cart CartState
	if err := json.Unmarshal([]byte(raw), &cart); err != nil {
		return CartState{}, fmt.Errorf("decode stored cart: %w", err)
	}
	return cart, nil
}

func (s *CartStore) Save(ctx context.Context, userID string, cart CartState) error {
	raw, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}
	return s.storage.Set(ctx, cartKey(userID), string(raw))
}

func (s *CartStore) Clear(ctx context.Context, userID string) error {
	return s.storage.Remove(ctx, cartKey(userID))
}

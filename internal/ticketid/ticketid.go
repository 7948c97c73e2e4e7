package ticketid

import (
	"crypto/rand"
	"io"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	TicketPrefix = "INFOTHON-"
	TeamPrefix   = "TEAM-"

	base36 = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// Generator produces ticket and team ids of the form
// <PREFIX><EVENTID4><TS36><RAND4>[-<UNIT>]. The timestamp component is taken from a
// strictly increasing millisecond counter, so consecutive ids never share TS36
// even when generated within the same millisecond.
type Generator struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
	rand io.Reader
}

func New() *Generator {
	return &Generator{now: time.Now, rand: rand.Reader}
}

// NewWithSource is used by tests to pin the clock and the random source.
func NewWithSource(now func() time.Time, r io.Reader) *Generator {
	return &Generator{now: now, rand: r}
}

// Ticket returns an individual ticket id. unit is 1-based and only appended when > 0.
func (g *Generator) Ticket(eventID string, unit int) string {
	id := TicketPrefix + g.body(eventID)
	if unit > 0 {
		id += "-" + strconv.Itoa(unit)
	}
	return id
}

func (g *Generator) Team(eventID string) string {
	return TeamPrefix + g.body(eventID)
}

func (g *Generator) body(eventID string) string {
	ts := g.tick()
	stamp := strings.ToUpper(strconv.FormatInt(ts, 36))
	if len(stamp) > 4 {
		stamp = stamp[len(stamp)-4:]
	}
	return eventFragment(eventID) + stamp + g.random4()
}

func (g *Generator) tick() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	ms := g.now().UnixMilli()
	if ms <= g.last {
		ms = g.last + 1
	}
	g.last = ms
	return ms
}

func (g *Generator) random4() string {
	var sb strings.Builder
	limit := big.NewInt(int64(len(base36)))
	for i := 0; i < 4; i++ {
		n, err := rand.Int(g.rand, limit)
		if err != nil {
			// uniqueness rests on the monotonic stamp
			sb.WriteByte('0')
			continue
		}
		sb.WriteByte(base36[n.Int64()])
	}
	return sb.String()
}

func eventFragment(eventID string) string {
	if len(eventID) > 4 {
		eventID = eventID[:4]
	}
	return strings.ToUpper(eventID)
}

// Valid reports whether s looks like an id produced by a Generator.
func Valid(s string) bool {
	var rest string
	switch {
	case strings.HasPrefix(s, TicketPrefix):
		rest = strings.TrimPrefix(s, TicketPrefix)
	case strings.HasPrefix(s, TeamPrefix):
		rest = strings.TrimPrefix(s, TeamPrefix)
	default:
		return false
	}
	if len(rest) < 9 {
		return false
	}
	for _, r := range rest {
		if !(r >= '0' && r <= '9' || r >= 'A' && r <= 'Z' || r == '-') {
			return false
		}
	}
	return true
}

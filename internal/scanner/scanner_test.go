package scanner

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"infothon/internal/model"
)

type memTickets struct {
	mu     sync.Mutex
	rows   map[string]*model.Registration
	writes int
	fail   error
}

func newMemTickets(regs ...model.Registration) *memTickets {
	t := &memTickets{rows: map[string]*model.Registration{}}
	for i := range regs {
		r := regs[i]
		t.rows[r.TicketID] = &r
	}
	return t
}

func (t *memTickets) Lookup(_ context.Context, id string) (*model.Registration, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fail != nil {
		return nil, false, t.fail
	}
	r, ok := t.rows[id]
	if !ok {
		return nil, false, nil
	}
	cp := *r
	cp.Members = append([]model.TeamMember(nil), r.Members...)
	return &cp, true, nil
}

func (t *memTickets) CheckIn(_ context.Context, id string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.rows[id]
	if r.Verified {
		return false, nil
	}
	r.Verified = true
	t.writes++
	return true, nil
}

func (t *memTickets) CheckInMember(_ context.Context, id string, slot int) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, _ := t.rows[id].Member(slot)
	if m.Verified {
		return false, nil
	}
	m.Verified = true
	t.writes++
	return true, nil
}

// gatedTickets holds each lookup until its id is released.
type gatedTickets struct {
	*memTickets
	entered chan string
	gates   map[string]chan struct{}
}

func (g *gatedTickets) Lookup(ctx context.Context, id string) (*model.Registration, bool, error) {
	g.entered <- id
	<-g.gates[id]
	return g.memTickets.Lookup(ctx, id)
}

type fakeAuth struct {
	loggedIn bool
}

func (a *fakeAuth) Login(_ context.Context, user, pass string) error {
	if user != "admin" || pass != "letmein" {
		return errors.New("invalid credentials")
	}
	a.loggedIn = true
	return nil
}

func (a *fakeAuth) Logout() { a.loggedIn = false }

type fakeCamera struct {
	err    error
	opened int
	feeds  []*fakeFeed
}

func (c *fakeCamera) Open(context.Context) (Feed, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.opened++
	f := &fakeFeed{}
	c.feeds = append(c.feeds, f)
	return f, nil
}

func (c *fakeCamera) released() bool {
	for _, f := range c.feeds {
		if f.closes == 0 {
			return false
		}
	}
	return true
}

type fakeFeed struct {
	closes int
}

func (f *fakeFeed) Next(context.Context) (string, error) { return "", io.EOF }

func (f *fakeFeed) Close() error {
	f.closes++
	return nil
}

const (
	soloID = "INFOTHON-CODEABCD1234"
	teamID = "INFOTHON-HACKABCD5678"
)

func fixtures() *memTickets {
	return newMemTickets(
		model.Registration{TicketID: soloID, EventID: "codesprint", AttendeeName: "Asha"},
		model.Registration{TicketID: teamID, EventID: "hackathon", IsTeamPass: true, TeamSize: 3, Members: []model.TeamMember{
			{Slot: 1, Name: "A"}, {Slot: 2, Name: "B"}, {Slot: 3, Name: "C"},
		}},
	)
}

func loggedIn(t *testing.T, tickets Tickets, cam Camera) *Machine {
	t.Helper()
	m := NewMachine(tickets, &fakeAuth{}, cam, nil)
	if err := m.Login(context.Background(), "admin", "letmein"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	return m
}

func scan(t *testing.T, m *Machine, raw string) {
	t.Helper()
	ctx := context.Background()
	if m.State() != StateScanning {
		if err := m.ScanAnother(ctx); err != nil {
			t.Fatalf("ScanAnother: %v", err)
		}
	}
	if err := m.HandlePayload(ctx, raw); err != nil {
		t.Fatalf("HandlePayload(%q): %v", raw, err)
	}
}

func hasAction(actions []Action, kind ActionKind) bool {
	for _, a := range actions {
		if a.Kind == kind {
			return true
		}
	}
	return false
}

func TestLoginGate(t *testing.T) {
	m := NewMachine(fixtures(), &fakeAuth{}, &fakeCamera{}, nil)
	ctx := context.Background()
	if err := m.StartScanning(ctx); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("expected ErrNotLoggedIn, got %v", err)
	}
	if err := m.Login(ctx, "admin", "wrong"); err == nil || m.State() != StateLoggedOut {
		t.Fatalf("bad credentials accepted: state=%s err=%v", m.State(), err)
	}
	if err := m.Login(ctx, "admin", "letmein"); err != nil || m.State() != StateIdle {
		t.Fatalf("login: state=%s err=%v", m.State(), err)
	}
}

func TestIndividualCheckInIsIdempotent(t *testing.T) {
	tickets := fixtures()
	m := loggedIn(t, tickets, &fakeCamera{})
	ctx := context.Background()

	scan(t, m, soloID)
	if !hasAction(m.Actions(), ActionConfirm) {
		t.Fatalf("confirm must be offered for an unverified ticket: %v", m.Actions())
	}
	changed, err := m.Confirm(ctx)
	if err != nil || !changed || m.State() != StateCheckedIn {
		t.Fatalf("first confirm: changed=%v err=%v state=%s", changed, err, m.State())
	}
	changed, err = m.Confirm(ctx)
	if err != nil || changed {
		t.Fatalf("double tap: changed=%v err=%v", changed, err)
	}

	scan(t, m, soloID)
	out := m.Result()
	if !out.Found || !out.AlreadyCheckedIn {
		t.Fatalf("rescan must report already checked in: %+v", out)
	}
	if hasAction(m.Actions(), ActionConfirm) {
		t.Fatal("confirm offered for an already verified ticket")
	}
	changed, err = m.Confirm(ctx)
	if err != nil || changed {
		t.Fatalf("confirm on verified ticket: changed=%v err=%v", changed, err)
	}
	if tickets.writes != 1 || !tickets.rows[soloID].Verified {
		t.Fatalf("expected exactly one store write, got %d", tickets.writes)
	}
}

func TestTeamPartialCheckIn(t *testing.T) {
	tickets := fixtures()
	m := loggedIn(t, tickets, &fakeCamera{})
	ctx := context.Background()

	scan(t, m, teamID)
	if hasAction(m.Actions(), ActionConfirm) {
		t.Fatal("team pass must not offer a whole-ticket confirm")
	}
	if _, err := m.Confirm(ctx); !errors.Is(err, ErrActionNotAvailable) {
		t.Fatalf("expected ErrActionNotAvailable, got %v", err)
	}
	if changed, err := m.CheckInMember(ctx, 2); err != nil || !changed {
		t.Fatalf("member 2: changed=%v err=%v", changed, err)
	}
	if m.State() != StateResult {
		t.Fatalf("team check-in must stay in Result, got %s", m.State())
	}

	var slots []int
	for _, a := range m.Actions() {
		if a.Kind == ActionCheckInMember {
			slots = append(slots, a.Slot)
		}
	}
	if len(slots) != 2 || slots[0] != 1 || slots[1] != 3 {
		t.Fatalf("member actions = %v, want [1 3]", slots)
	}
	if changed, err := m.CheckInMember(ctx, 2); err != nil || changed {
		t.Fatalf("re-check member 2: changed=%v err=%v", changed, err)
	}
	if _, err := m.CheckInMember(ctx, 4); !errors.Is(err, ErrActionNotAvailable) {
		t.Fatalf("unpopulated slot: expected ErrActionNotAvailable, got %v", err)
	}

	row := tickets.rows[teamID]
	want := []bool{false, true, false}
	for i, mem := range row.Members {
		if mem.Verified != want[i] {
			t.Fatalf("member %d verified=%v", mem.Slot, mem.Verified)
		}
	}
	if row.FullyCheckedIn() {
		t.Fatal("team must not be fully checked in")
	}
}

func TestNotFoundIsAResult(t *testing.T) {
	tickets := fixtures()
	m := loggedIn(t, tickets, &fakeCamera{})
	scan(t, m, "INFOTHON-NOPE00000000")

	out := m.Result()
	if m.State() != StateResult || out == nil || out.Found {
		t.Fatalf("expected not-found result, state=%s out=%+v", m.State(), out)
	}
	if m.Err() != nil {
		t.Fatalf("not-found must not be an error: %v", m.Err())
	}
	if tickets.writes != 0 {
		t.Fatal("store modified by a not-found scan")
	}
	actions := m.Actions()
	if len(actions) != 2 || actions[0].Kind != ActionScanAnother {
		t.Fatalf("only scan-another/logout expected, got %v", actions)
	}
}

func TestMalformedPayloadKeepsScanning(t *testing.T) {
	cam := &fakeCamera{}
	m := loggedIn(t, fixtures(), cam)
	ctx := context.Background()
	if err := m.StartScanning(ctx); err != nil {
		t.Fatal(err)
	}
	for _, raw := range []string{"{not json", "hello world", `{"event":"ctf"}`} {
		if err := m.HandlePayload(ctx, raw); !errors.Is(err, ErrInvalidPayload) {
			t.Fatalf("%q: expected ErrInvalidPayload, got %v", raw, err)
		}
		if m.State() != StateScanning {
			t.Fatalf("%q: state changed to %s", raw, m.State())
		}
	}
	if err := m.HandlePayload(ctx, `{"ticketId":"`+soloID+`","eventName":"Code Sprint"}`); err != nil {
		t.Fatalf("legacy payload: %v", err)
	}
	if out := m.Result(); !out.Found || !out.Payload.Legacy {
		t.Fatalf("legacy payload not resolved: %+v", out)
	}
	if !cam.released() {
		t.Fatal("camera still held after decode")
	}
}

func TestCameraFailureStaysIdle(t *testing.T) {
	m := loggedIn(t, fixtures(), &fakeCamera{err: errors.New("permission denied")})
	err := m.StartScanning(context.Background())
	if !errors.Is(err, ErrCameraUnavailable) {
		t.Fatalf("expected ErrCameraUnavailable, got %v", err)
	}
	if m.State() != StateIdle || !errors.Is(m.Err(), ErrCameraUnavailable) {
		t.Fatalf("state=%s err=%v", m.State(), m.Err())
	}
}

func TestLookupFailureReturnsToIdle(t *testing.T) {
	tickets := fixtures()
	tickets.fail = errors.New("network down")
	m := loggedIn(t, tickets, &fakeCamera{})
	ctx := context.Background()
	if err := m.StartScanning(ctx); err != nil {
		t.Fatal(err)
	}
	if err := m.HandlePayload(ctx, soloID); err == nil {
		t.Fatal("expected lookup error")
	}
	if m.State() != StateIdle || m.Err() == nil {
		t.Fatalf("state=%s err=%v", m.State(), m.Err())
	}
}

func TestLogoutReleasesCameraAndClearsResult(t *testing.T) {
	cam := &fakeCamera{}
	m := loggedIn(t, fixtures(), cam)
	ctx := context.Background()
	scan(t, m, soloID)
	if err := m.ScanAnother(ctx); err != nil {
		t.Fatal(err)
	}
	m.Logout()
	if m.State() != StateLoggedOut || m.Result() != nil {
		t.Fatalf("state=%s result=%+v", m.State(), m.Result())
	}
	if cam.opened != 2 || !cam.released() {
		t.Fatalf("opened=%d released=%v", cam.opened, cam.released())
	}
	if err := m.StartScanning(ctx); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("expected ErrNotLoggedIn after logout, got %v", err)
	}
}

func TestScanSessionCloseIsIdempotent(t *testing.T) {
	cam := &fakeCamera{}
	s, err := Acquire(context.Background(), cam)
	if err != nil {
		t.Fatal(err)
	}
	_ = s.Close()
	_ = s.Close()
	if !s.Closed() || cam.feeds[0].closes != 1 {
		t.Fatalf("Close must release once: closed=%v closes=%d", s.Closed(), cam.feeds[0].closes)
	}
}

func TestStaleLookupIsDropped(t *testing.T) {
	tickets := &gatedTickets{
		memTickets: fixtures(),
		entered:    make(chan string, 2),
		gates:      map[string]chan struct{}{soloID: make(chan struct{}), teamID: make(chan struct{})},
	}
	m := loggedIn(t, tickets, &fakeCamera{})
	ctx := context.Background()
	if err := m.StartScanning(ctx); err != nil {
		t.Fatal(err)
	}

	first := make(chan error, 1)
	go func() { first <- m.HandlePayload(ctx, soloID) }()
	<-tickets.entered

	if err := m.ScanAnother(ctx); err != nil {
		t.Fatalf("ScanAnother: %v", err)
	}
	second := make(chan error, 1)
	go func() { second <- m.HandlePayload(ctx, teamID) }()
	<-tickets.entered

	close(tickets.gates[soloID])
	if err := <-first; !errors.Is(err, ErrActionNotAvailable) {
		t.Fatalf("stale lookup: %v", err)
	}
	if m.State() != StateVerifying {
		t.Fatalf("stale lookup changed state to %v", m.State())
	}

	close(tickets.gates[teamID])
	if err := <-second; err != nil {
		t.Fatalf("current lookup: %v", err)
	}
	if out := m.Result(); out == nil || out.TicketID != teamID {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func TestLineCamera(t *testing.T) {
	ctx := context.Background()
	s, err := Acquire(ctx, LineCamera{Reader: strings.NewReader("\n" + soloID + "\n" + teamID + "\n")})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	for _, want := range []string{soloID, teamID} {
		got, err := s.Next(ctx)
		if err != nil || got != want {
			t.Fatalf("Next = %q, %v; want %q", got, err, want)
		}
	}
	if _, err := s.Next(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}

	if _, err := Acquire(ctx, LineCamera{Path: "/nonexistent/scanner"}); !errors.Is(err, ErrCameraUnavailable) {
		t.Fatalf("expected ErrCameraUnavailable, got %v", err)
	}
}

func TestParsePayload(t *testing.T) {
	cases := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{soloID, soloID, false},
		{"  " + teamID + "\n", teamID, false},
		{`{"ticketId":"LEGACY-1","event":"ctf"}`, "LEGACY-1", false},
		{`{"ticketId":""}`, "", true},
		{"{", "", true},
		{"random text", "", true},
	}
	for _, tc := range cases {
		p, err := ParsePayload(tc.raw)
		if tc.wantErr {
			if !errors.Is(err, ErrInvalidPayload) {
				t.Errorf("ParsePayload(%q): expected ErrInvalidPayload, got %v", tc.raw, err)
			}
			continue
		}
		if err != nil || p.TicketID != tc.want {
			t.Errorf("ParsePayload(%q) = %q, %v", tc.raw, p.TicketID, err)
		}
	}
	if ErrInvalidPayload.Error() != "Invalid QR format" {
		t.Fatalf("unexpected message %q", ErrInvalidPayload.Error())
	}
}

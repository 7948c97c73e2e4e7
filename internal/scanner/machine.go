package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"infothon/internal/model"
)

var tracer = otel.Tracer("infothon/scanner")

var (
	ErrNotLoggedIn        = errors.New("operator not logged in")
	ErrActionNotAvailable = errors.New("action not available in current state")
)

type State int

const (
	StateLoggedOut State = iota
	StateIdle
	StateScanning
	StateVerifying
	StateResult
	StateCheckedIn
)

func (s State) String() string {
	switch s {
	case StateLoggedOut:
		return "logged_out"
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateVerifying:
		return "verifying"
	case StateResult:
		return "result"
	case StateCheckedIn:
		return "checked_in"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Tickets is the registration store as the scanner sees it. A missing ticket is
// reported as found=false, not as an error.
type Tickets interface {
	Lookup(ctx context.Context, ticketID string) (*model.Registration, bool, error)
	CheckIn(ctx context.Context, ticketID string) (bool, error)
	CheckInMember(ctx context.Context, ticketID string, slot int) (bool, error)
}

type Authenticator interface {
	Login(ctx context.Context, username, password string) error
	Logout()
}

type Outcome struct {
	TicketID         string
	Found            bool
	Registration     *model.Registration
	AlreadyCheckedIn bool
	Payload          Payload
}

type ActionKind string

const (
	ActionLogin         ActionKind = "login"
	ActionLogout        ActionKind = "logout"
	ActionStartScan     ActionKind = "start_scan"
	ActionStopScan      ActionKind = "stop_scan"
	ActionConfirm       ActionKind = "confirm"
	ActionCheckInMember ActionKind = "check_in_member"
	ActionScanAnother   ActionKind = "scan_another"
)

type Action struct {
	Kind ActionKind
	Slot int
}

// Machine drives one operator's check-in flow. Network calls run without the lock held,
// so State and Actions stay responsive while a lookup is in flight.
type Machine struct {
	mu      sync.Mutex
	state   State
	tickets Tickets
	auth    Authenticator
	camera  Camera
	session *ScanSession
	result  *Outcome
	lastErr error
	// lookup numbers each ticket lookup; a reply for an older one is dropped.
	lookup  uint64
	log     *zerolog.Logger
}

func NewMachine(tickets Tickets, auth Authenticator, camera Camera, log *zerolog.Logger) *Machine {
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	return &Machine{state: StateLoggedOut, tickets: tickets, auth: auth, camera: camera, log: log}
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Result returns a copy of the current outcome, or nil outside Result/CheckedIn.
func (m *Machine) Result() *Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.result == nil {
		return nil
	}
	out := *m.result
	if out.Registration != nil {
		reg := *out.Registration
		reg.Members = append([]model.TeamMember(nil), reg.Members...)
		out.Registration = &reg
	}
	return &out
}

// Err is the last error surfaced to the operator.
func (m *Machine) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Session is the active scan session while Scanning.
func (m *Machine) Session() *ScanSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

func (m *Machine) Login(ctx context.Context, username, password string) error {
	m.mu.Lock()
	if m.state != StateLoggedOut {
		m.mu.Unlock()
		return ErrActionNotAvailable
	}
	m.mu.Unlock()

	if err := m.auth.Login(ctx, username, password); err != nil {
		m.setErr(err)
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateIdle
	m.lastErr = nil
	m.log.Info().Str("operator", username).Msg("operator logged in")
	return nil
}

// Logout releases the camera and forgets the current result.
func (m *Machine) Logout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseLocked()
	m.result = nil
	m.lastErr = nil
	m.state = StateLoggedOut
	m.auth.Logout()
}

func (m *Machine) releaseLocked() {
	if m.session != nil {
		if err := m.session.Close(); err != nil {
			m.log.Warn().Err(err).Msg("failed to release camera")
		}
		m.session = nil
	}
}

func (m *Machine) setErr(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

// StartScanning acquires the camera. On failure the machine stays Idle.
func (m *Machine) StartScanning(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StateLoggedOut:
		return ErrNotLoggedIn
	case StateIdle:
	default:
		return ErrActionNotAvailable
	}
	return m.startLocked(ctx)
}

func (m *Machine) startLocked(ctx context.Context) error {
	s, err := Acquire(ctx, m.camera)
	if err != nil {
		m.state = StateIdle
		m.lastErr = err
		m.log.Warn().Err(err).Msg("camera access failed")
		return err
	}
	m.session = s
	m.result = nil
	m.lastErr = nil
	m.state = StateScanning
	return nil
}

// StopScanning releases the camera and returns to Idle.
func (m *Machine) StopScanning() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateScanning {
		return
	}
	m.releaseLocked()
	m.state = StateIdle
}

// HandlePayload consumes one decoded code. A malformed code keeps the machine Scanning;
// a well-formed one stops the camera and looks the ticket up.
func (m *Machine) HandlePayload(ctx context.Context, raw string) error {
	m.mu.Lock()
	if m.state != StateScanning {
		m.mu.Unlock()
		return ErrActionNotAvailable
	}
	p, err := ParsePayload(raw)
	if err != nil {
		m.lastErr = err
		m.mu.Unlock()
		return err
	}
	m.releaseLocked()
	m.state = StateVerifying
	m.lastErr = nil
	m.lookup++
	seq := m.lookup
	m.mu.Unlock()

	ctx, span := tracer.Start(ctx, "checkin.lookup")
	span.SetAttributes(attribute.String("ticket_id", p.TicketID))
	reg, found, err := m.tickets.Lookup(ctx, p.TicketID)
	span.End()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateVerifying || m.lookup != seq {
		return ErrActionNotAvailable
	}
	if err != nil {
		m.state = StateIdle
		m.lastErr = err
		m.log.Error().Err(err).Str("ticket_id", p.TicketID).Msg("ticket lookup failed")
		return err
	}
	out := &Outcome{TicketID: p.TicketID, Found: found, Payload: p}
	if found {
		out.Registration = reg
		out.AlreadyCheckedIn = !reg.IsTeamPass && reg.Verified
	}
	m.result = out
	m.state = StateResult
	return nil
}

// Confirm checks in an individual ticket. Confirming a ticket that is already checked in
// is a no-op and reports changed=false without error.
func (m *Machine) Confirm(ctx context.Context) (bool, error) {
	m.mu.Lock()
	switch {
	case m.state == StateCheckedIn:
		m.mu.Unlock()
		return false, nil
	case m.state != StateResult || m.result == nil || !m.result.Found || m.result.Registration.IsTeamPass:
		m.mu.Unlock()
		return false, ErrActionNotAvailable
	case m.result.AlreadyCheckedIn:
		m.mu.Unlock()
		return false, nil
	}
	id := m.result.TicketID
	m.mu.Unlock()

	ctx, span := tracer.Start(ctx, "checkin.confirm")
	span.SetAttributes(attribute.String("ticket_id", id))
	changed, err := m.tickets.CheckIn(ctx, id)
	span.End()

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.lastErr = err
		m.log.Error().Err(err).Str("ticket_id", id).Msg("check-in failed")
		return false, err
	}
	if m.result != nil && m.result.TicketID == id {
		m.result.Registration.Verified = true
		m.state = StateCheckedIn
	}
	m.log.Info().Str("ticket_id", id).Bool("changed", changed).Msg("ticket checked in")
	return changed, nil
}

// CheckInMember checks in one populated slot of a team pass. The machine stays in Result
// so further members can be checked in from the same view.
func (m *Machine) CheckInMember(ctx context.Context, slot int) (bool, error) {
	m.mu.Lock()
	if m.state != StateResult || m.result == nil || !m.result.Found || !m.result.Registration.IsTeamPass {
		m.mu.Unlock()
		return false, ErrActionNotAvailable
	}
	member, ok := m.result.Registration.Member(slot)
	if !ok {
		m.mu.Unlock()
		return false, ErrActionNotAvailable
	}
	if member.Verified {
		m.mu.Unlock()
		return false, nil
	}
	id := m.result.TicketID
	m.mu.Unlock()

	ctx, span := tracer.Start(ctx, "checkin.member")
	span.SetAttributes(attribute.String("ticket_id", id), attribute.Int("slot", slot))
	changed, err := m.tickets.CheckInMember(ctx, id, slot)
	span.End()

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.lastErr = err
		m.log.Error().Err(err).Str("ticket_id", id).Int("slot", slot).Msg("member check-in failed")
		return false, err
	}
	if m.result != nil && m.result.TicketID == id {
		if mem, ok := m.result.Registration.Member(slot); ok {
			mem.Verified = true
		}
	}
	m.log.Info().Str("ticket_id", id).Int("slot", slot).Bool("changed", changed).Msg("team member checked in")
	return changed, nil
}

// ScanAnother discards the current result and goes back to scanning.
func (m *Machine) ScanAnother(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateLoggedOut {
		return ErrNotLoggedIn
	}
	m.releaseLocked()
	m.result = nil
	m.state = StateIdle
	return m.startLocked(ctx)
}

// Actions lists what the operator may do right now.
func (m *Machine) Actions() []Action {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateLoggedOut:
		return []Action{{Kind: ActionLogin}}
	case StateIdle:
		return []Action{{Kind: ActionStartScan}, {Kind: ActionLogout}}
	case StateScanning:
		return []Action{{Kind: ActionStopScan}, {Kind: ActionLogout}}
	case StateVerifying:
		return nil
	case StateCheckedIn:
		return []Action{{Kind: ActionScanAnother}, {Kind: ActionLogout}}
	}

	var actions []Action
	if r := m.result; r != nil && r.Found {
		reg := r.Registration
		if reg.IsTeamPass {
			for _, mem := range reg.Members {
				if !mem.Verified && mem.Name != "" {
					actions = append(actions, Action{Kind: ActionCheckInMember, Slot: mem.Slot})
				}
			}
		} else if !reg.Verified {
			actions = append(actions, Action{Kind: ActionConfirm})
		}
	}
	return append(actions, Action{Kind: ActionScanAnother}, Action{Kind: ActionLogout})
}

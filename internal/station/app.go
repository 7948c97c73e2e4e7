// Package station is the terminal UI the check-in desk runs on top of scanner.Machine.
package station

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"infothon/internal/model"
	"infothon/internal/scanner"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	hintStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

type loginDoneMsg struct{ err error }

type scanStartedMsg struct{ err error }

type codeMsg struct {
	raw     string
	session *scanner.ScanSession
}

type feedEndedMsg struct {
	err     error
	session *scanner.ScanSession
}

type lookupDoneMsg struct {
	err      error
	fromFeed bool
	session  *scanner.ScanSession
}

type checkInDoneMsg struct {
	slot    int
	changed bool
	err     error
}

// App is the bubbletea model. All flow state lives in the machine; App only keeps
// what the screen needs.
type App struct {
	ctx     context.Context
	machine *scanner.Machine

	username textinput.Model
	password textinput.Model
	manual   textinput.Model
	spinner  spinner.Model

	status string
	err    error
}

func newInput(placeholder string) textinput.Model {
	ti := textinput.New()
	ti.Placeholder = placeholder
	ti.CharLimit = 128
	_ = ti.Cursor.SetMode(cursor.CursorStatic)
	return ti
}

func NewApp(ctx context.Context, machine *scanner.Machine) *App {
	a := &App{
		ctx:      ctx,
		machine:  machine,
		username: newInput("username"),
		password: newInput("password"),
		manual:   newInput("type or paste a ticket id"),
		spinner:  spinner.New(),
	}
	a.password.EchoMode = textinput.EchoPassword
	a.spinner.Spinner = spinner.Dot
	_ = a.username.Focus()
	return a
}

func (a *App) Init() tea.Cmd {
	return nil
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			a.machine.Logout()
			return a, tea.Quit
		}
		return a, a.handleKey(msg)

	case loginDoneMsg:
		a.password.SetValue("")
		if msg.err != nil {
			a.err = msg.err
			return a, nil
		}
		a.err = nil
		a.status = "Logged in"
		return a, nil

	case scanStartedMsg:
		if msg.err != nil {
			a.err = msg.err
			return a, nil
		}
		a.err = nil
		a.status = "Scanning..."
		a.manual.SetValue("")
		_ = a.manual.Focus()
		return a, a.waitCode(a.machine.Session())

	case codeMsg:
		if msg.session != a.machine.Session() || a.machine.State() != scanner.StateScanning {
			return a, nil
		}
		return a, a.lookup(msg.raw, true, msg.session)

	case feedEndedMsg:
		if msg.session == a.machine.Session() && a.machine.State() == scanner.StateScanning {
			a.status = "Scanner disconnected, type the ticket id instead"
			if msg.err != nil && !errors.Is(msg.err, io.EOF) {
				a.err = msg.err
			}
		}
		return a, nil

	case lookupDoneMsg:
		switch {
		case errors.Is(msg.err, scanner.ErrInvalidPayload):
			a.err = msg.err
			if msg.fromFeed {
				return a, a.waitCode(msg.session)
			}
		case msg.err != nil:
			a.err = msg.err
		default:
			a.err = nil
			a.status = ""
		}
		return a, nil

	case checkInDoneMsg:
		if msg.err != nil {
			a.err = msg.err
			return a, nil
		}
		a.err = nil
		switch {
		case msg.slot > 0 && msg.changed:
			a.status = fmt.Sprintf("Member %d checked in", msg.slot)
		case msg.slot > 0:
			a.status = fmt.Sprintf("Member %d was already checked in", msg.slot)
		case msg.changed:
			a.status = "Checked in"
		default:
			a.status = "Already checked in"
		}
		return a, nil

	case spinner.TickMsg:
		if a.machine.State() != scanner.StateVerifying {
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd
	}
	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch a.machine.State() {
	case scanner.StateLoggedOut:
		return a.handleLoginKey(msg)

	case scanner.StateIdle:
		switch msg.String() {
		case "s":
			return a.startScan()
		case "l":
			a.logout()
		case "q":
			a.machine.Logout()
			return tea.Quit
		}

	case scanner.StateScanning:
		switch msg.Type {
		case tea.KeyEsc:
			a.machine.StopScanning()
			a.manual.Blur()
			a.status = "Scanning stopped"
			return nil
		case tea.KeyEnter:
			raw := strings.TrimSpace(a.manual.Value())
			a.manual.SetValue("")
			if raw == "" {
				return nil
			}
			return a.lookup(raw, false, a.machine.Session())
		}
		var cmd tea.Cmd
		a.manual, cmd = a.manual.Update(msg)
		return cmd

	case scanner.StateResult, scanner.StateCheckedIn:
		key := msg.String()
		switch key {
		case "c":
			return a.confirm()
		case "n":
			return a.startScan()
		case "l":
			a.logout()
			return nil
		}
		if slot, err := strconv.Atoi(key); err == nil && slot >= 1 && slot <= model.MaxTeamMembers {
			return a.checkInMember(slot)
		}
	}
	return nil
}

func (a *App) handleLoginKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.Type {
	case tea.KeyTab, tea.KeyShiftTab:
		a.toggleLoginFocus()
		return nil
	case tea.KeyEnter:
		if a.username.Focused() {
			a.toggleLoginFocus()
			return nil
		}
		user, pass := strings.TrimSpace(a.username.Value()), a.password.Value()
		if user == "" || pass == "" {
			a.err = errors.New("username and password are required")
			return nil
		}
		a.status = "Logging in..."
		return func() tea.Msg {
			return loginDoneMsg{err: a.machine.Login(a.ctx, user, pass)}
		}
	}
	var cmd tea.Cmd
	if a.username.Focused() {
		a.username, cmd = a.username.Update(msg)
	} else {
		a.password, cmd = a.password.Update(msg)
	}
	return cmd
}

func (a *App) toggleLoginFocus() {
	if a.username.Focused() {
		a.username.Blur()
		_ = a.password.Focus()
		return
	}
	a.password.Blur()
	_ = a.username.Focus()
}

func (a *App) logout() {
	a.machine.Logout()
	a.status = "Logged out"
	a.err = nil
	a.manual.Blur()
	a.password.Blur()
	_ = a.username.Focus()
}

func (a *App) startScan() tea.Cmd {
	state := a.machine.State()
	return func() tea.Msg {
		var err error
		if state == scanner.StateIdle {
			err = a.machine.StartScanning(a.ctx)
		} else {
			err = a.machine.ScanAnother(a.ctx)
		}
		return scanStartedMsg{err: err}
	}
}

func (a *App) waitCode(s *scanner.ScanSession) tea.Cmd {
	if s == nil {
		return nil
	}
	return func() tea.Msg {
		raw, err := s.Next(a.ctx)
		if err != nil {
			return feedEndedMsg{err: err, session: s}
		}
		return codeMsg{raw: raw, session: s}
	}
}

func (a *App) lookup(raw string, fromFeed bool, s *scanner.ScanSession) tea.Cmd {
	a.status = "Verifying..."
	run := func() tea.Msg {
		return lookupDoneMsg{err: a.machine.HandlePayload(a.ctx, raw), fromFeed: fromFeed, session: s}
	}
	return tea.Batch(run, a.spinner.Tick)
}

func (a *App) confirm() tea.Cmd {
	return func() tea.Msg {
		changed, err := a.machine.Confirm(a.ctx)
		return checkInDoneMsg{changed: changed, err: err}
	}
}

func (a *App) checkInMember(slot int) tea.Cmd {
	return func() tea.Msg {
		changed, err := a.machine.CheckInMember(a.ctx, slot)
		return checkInDoneMsg{slot: slot, changed: changed, err: err}
	}
}

func (a *App) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Infothon check-in"))
	b.WriteString("  " + hintStyle.Render(a.machine.State().String()) + "\n\n")

	switch a.machine.State() {
	case scanner.StateLoggedOut:
		b.WriteString(a.username.View() + "\n" + a.password.View() + "\n")
	case scanner.StateIdle:
		b.WriteString("Ready.\n")
	case scanner.StateScanning:
		b.WriteString("Point the scanner at a ticket, or type its id:\n" + a.manual.View() + "\n")
	case scanner.StateVerifying:
		b.WriteString(a.spinner.View() + " Looking up ticket...\n")
	case scanner.StateResult, scanner.StateCheckedIn:
		b.WriteString(renderOutcome(a.machine.Result()) + "\n")
	}

	if a.status != "" {
		b.WriteString("\n" + a.status + "\n")
	}
	if a.err != nil {
		b.WriteString("\n" + errStyle.Render(a.err.Error()) + "\n")
	}
	b.WriteString("\n" + hintStyle.Render(helpLine(a.machine.Actions())))
	return b.String()
}

func renderOutcome(out *scanner.Outcome) string {
	if out == nil {
		return ""
	}
	if !out.Found {
		return boxStyle.Render(errStyle.Render("Ticket not found") + "\n" + out.TicketID)
	}
	reg := out.Registration
	lines := []string{
		reg.TicketID,
		reg.EventName + " (" + reg.EventDate + ")",
	}
	if reg.IsTeamPass {
		lines = append(lines, fmt.Sprintf("Team %s, %d members", reg.TeamName, reg.TeamSize))
		for _, m := range reg.Members {
			mark := warnStyle.Render("pending")
			if m.Verified {
				mark = okStyle.Render("checked in")
			}
			lines = append(lines, fmt.Sprintf("  [%d] %s  %s", m.Slot, m.Name, mark))
		}
	} else {
		lines = append(lines, "Attendee: "+reg.AttendeeName)
		switch {
		case out.AlreadyCheckedIn:
			lines = append(lines, warnStyle.Render("Already checked in"))
		case reg.Verified:
			lines = append(lines, okStyle.Render("Checked in"))
		default:
			lines = append(lines, okStyle.Render("Valid ticket"))
		}
	}
	if out.Payload.Legacy {
		lines = append(lines, hintStyle.Render("legacy QR"))
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

func helpLine(actions []scanner.Action) string {
	keys := map[scanner.ActionKind]string{
		scanner.ActionLogin:       "enter: log in",
		scanner.ActionLogout:      "l: log out",
		scanner.ActionStartScan:   "s: scan",
		scanner.ActionStopScan:    "esc: stop",
		scanner.ActionConfirm:     "c: check in",
		scanner.ActionScanAnother: "n: scan another",
	}
	parts := make([]string, 0, len(actions)+1)
	for _, act := range actions {
		if act.Kind == scanner.ActionCheckInMember {
			parts = append(parts, fmt.Sprintf("%d: member %d", act.Slot, act.Slot))
			continue
		}
		if k, ok := keys[act.Kind]; ok {
			parts = append(parts, k)
		}
	}
	parts = append(parts, "ctrl+c: quit")
	return strings.Join(parts, " • ")
}

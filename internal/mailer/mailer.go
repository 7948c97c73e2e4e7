package mailer

import (
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"

	"github.com/rs/zerolog"

	"infothon/internal/dto"
)

var ErrNotConfigured = errors.New("smtp is not configured")

type Config struct {
	Host     string
	Port     string
	From     string
	Password string
	Support  string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type Mailer struct {
	cfg  Config
	log  *zerolog.Logger
	send sendFunc
}

func New(cfg Config, log *zerolog.Logger) *Mailer {
	if cfg.Port == "" {
		cfg.Port = "587"
	}
	return &Mailer{cfg: cfg, log: log, send: smtp.SendMail}
}

func (m *Mailer) deliver(to, subject, body string) error {
	if m.cfg.Host == "" || m.cfg.From == "" {
		return ErrNotConfigured
	}
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s",
		m.cfg.From, to, subject, body,
	)

	var auth smtp.Auth
	if m.cfg.Password != "" {
		auth = smtp.PlainAuth("", m.cfg.From, m.cfg.Password, m.cfg.Host)
	}
	addr := net.JoinHostPort(m.cfg.Host, m.cfg.Port)
	if err := m.send(addr, auth, m.cfg.From, []string{to}, []byte(msg)); err != nil {
		m.log.Warn().Err(err).Str("to", to).Msg("failed to send email")
		return fmt.Errorf("send email: %w", err)
	}
	m.log.Info().Str("to", to).Str("subject", subject).Msg("email sent")
	return nil
}

// TicketsEmail builds the confirmation sent after tickets are issued.
func TicketsEmail(msg dto.TicketsIssuedMessage) (subject, body string) {
	subject = "Your Infothon tickets"
	var b strings.Builder
	name := msg.Name
	if name == "" {
		name = "there"
	}
	fmt.Fprintf(&b, "Hi %s,\n\nThank you for registering for Infothon. Your tickets:\n\n", name)
	for _, t := range msg.Tickets {
		fmt.Fprintf(&b, "  %s  %s (%s), attendee: %s\n", t.TicketID, t.EventName, t.EventDate, t.Attendee)
	}
	b.WriteString("\nShow the QR code of each ticket at the check-in desk.\n")
	return subject, b.String()
}

// FailureEmail builds the support notice for a paid order that was not fully fulfilled.
func FailureEmail(msg dto.RegistrationFailedMessage) (subject, body string) {
	subject = "Infothon: paid order needs attention (" + msg.OrderID + ")"
	body = fmt.Sprintf(
		"Session: %s\nUser: %s <%s>\nOrder: %s\nPayment: %s\nAmount: %d\nTickets not issued: %s\nReason: %s\n",
		msg.SessionID, msg.UserID, msg.Email, msg.OrderID, msg.PaymentID, msg.Amount,
		strings.Join(msg.TicketIDs, ", "), msg.Reason,
	)
	return subject, body
}

func (m *Mailer) SendTickets(msg dto.TicketsIssuedMessage) error {
	subject, body := TicketsEmail(msg)
	return m.deliver(msg.Email, subject, body)
}

func (m *Mailer) SendFailure(msg dto.RegistrationFailedMessage) error {
	if m.cfg.Support == "" {
		return ErrNotConfigured
	}
	subject, body := FailureEmail(msg)
	return m.deliver(m.cfg.Support, subject, body)
}

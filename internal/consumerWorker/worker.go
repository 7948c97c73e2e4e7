package consumerWorker

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"infothon/internal/dto"
)

type Consumer interface {
	Consume(handler func([]byte) error) error
}

type Sessions interface {
	AbandonCheckoutIfPending(ctx context.Context, id string) (bool, error)
}

type Notifier interface {
	SendTickets(msg dto.TicketsIssuedMessage) error
	SendFailure(msg dto.RegistrationFailedMessage) error
}

type Reader struct {
	rmq    Consumer
	repo   Sessions
	mail   Notifier
	log    *zerolog.Logger
	done   chan struct{}
	cancel context.CancelFunc
}

func NewReader(rmq Consumer, repo Sessions, mail Notifier, log *zerolog.Logger) *Reader {
	return &Reader{
		rmq:  rmq,
		repo: repo,
		mail: mail,
		log:  log,
		done: make(chan struct{}),
	}
}

func (r *Reader) Start(ctx context.Context) {
	cctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.log.Info().Msg("RabbitMQ reader started")

	go func() {
		defer close(r.done)

		handler := func(body []byte) error {
			return r.Handle(cctx, body)
		}
		if err := r.rmq.Consume(handler); err != nil {
			r.log.Error().Err(err).Msg("failed to start consuming")
			return
		}

		<-cctx.Done()
		r.log.Info().Msg("RabbitMQ reader stopped by context")
	}()
}

func (r *Reader) Stop() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
}

// Handle dispatches one envelope. Returning an error requeues the delivery, so only
// store failures do; undeliverable email is logged and dropped.
func (r *Reader) Handle(ctx context.Context, body []byte) error {
	var msg dto.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		r.log.Error().Err(err).Str("body", string(body)).Msg("failed to unmarshal message")
		return nil
	}

	switch msg.Type {
	case dto.MsgCheckoutExpire:
		var m dto.CheckoutExpireMessage
		if err := json.Unmarshal(msg.Payload, &m); err != nil {
			r.log.Error().Err(err).Str("type", msg.Type).Msg("bad payload")
			return nil
		}
		abandoned, err := r.repo.AbandonCheckoutIfPending(ctx, m.SessionID)
		if err != nil {
			r.log.Error().Err(err).Str("session_id", m.SessionID).Msg("failed to abandon checkout session")
			return err
		}
		r.log.Info().Str("session_id", m.SessionID).Bool("abandoned", abandoned).Msg("checkout session expired")

	case dto.MsgTicketsIssued:
		var m dto.TicketsIssuedMessage
		if err := json.Unmarshal(msg.Payload, &m); err != nil {
			r.log.Error().Err(err).Str("type", msg.Type).Msg("bad payload")
			return nil
		}
		if err := r.mail.SendTickets(m); err != nil {
			r.log.Warn().Err(err).Str("session_id", m.SessionID).Str("email", m.Email).Msg("failed to send ticket email")
			return nil
		}

	case dto.MsgRegistrationFailed:
		var m dto.RegistrationFailedMessage
		if err := json.Unmarshal(msg.Payload, &m); err != nil {
			r.log.Error().Err(err).Str("type", msg.Type).Msg("bad payload")
			return nil
		}
		r.log.Error().
			Str("session_id", m.SessionID).
			Str("user_id", m.UserID).
			Str("order_id", m.OrderID).
			Str("payment_id", m.PaymentID).
			Strs("ticket_ids", m.TicketIDs).
			Str("reason", m.Reason).
			Msg("paid order not fulfilled, manual reconciliation required")
		if err := r.mail.SendFailure(m); err != nil {
			r.log.Warn().Err(err).Str("session_id", m.SessionID).Msg("failed to notify support")
		}

	default:
		r.log.Warn().Str("type", msg.Type).Msg("unknown message type")
	}
	return nil
}

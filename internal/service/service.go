package service

import (
	"errors"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/ginext"

	"infothon/internal/auth"
	"infothon/internal/catalog"
	"infothon/internal/checkout"
	"infothon/internal/dto"
	"infothon/internal/identity"
	"infothon/internal/payment"
	"infothon/internal/repo"
	"infothon/internal/scanner"
	"infothon/internal/team"
	"infothon/pkg/validator"
)

type Service interface {
	ListEvents(ctx *ginext.Context)
	GetEvent(ctx *ginext.Context)

	GetCart(ctx *ginext.Context)
	PutCart(ctx *ginext.Context)
	ClearCart(ctx *ginext.Context)
	Quote(ctx *ginext.Context)

	StartCheckout(ctx *ginext.Context)
	ConfirmCheckout(ctx *ginext.Context)
	StartTeam(ctx *ginext.Context)
	ConfirmTeam(ctx *ginext.Context)

	MyEvents(ctx *ginext.Context)
	MyTickets(ctx *ginext.Context)
	TicketQR(ctx *ginext.Context)

	AdminLogin(ctx *ginext.Context)
	Scan(ctx *ginext.Context)
	LookupTicket(ctx *ginext.Context)
	CheckIn(ctx *ginext.Context)
	CheckInMember(ctx *ginext.Context)
	ExportRegistrations(ctx *ginext.Context)

	Health(ctx *ginext.Context)
}

type Deps struct {
	Catalog   *catalog.Catalog
	Repo      repo.Repository
	Carts     *checkout.CartStore
	Purchases *checkout.Purchases
	Checkout  *checkout.Orchestrator
	Teams     *team.Orchestrator
	Issuer    *auth.Issuer
	Operators *auth.Operators
}

type service struct {
	Deps
	tickets scanner.Tickets
	log     *zerolog.Logger
}

func NewService(deps Deps, logger *zerolog.Logger) Service {
	return &service{
		Deps:    deps,
		tickets: scanner.StoreTickets{Repo: deps.Repo},
		log:     logger,
	}
}

// bind decodes and validates a JSON body, answering 400 itself on failure.
func (s *service) bind(ctx *ginext.Context, req any) bool {
	if err := ctx.ShouldBindJSON(req); err != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid JSON format")
		return false
	}
	if verr := validator.Validate(ctx, req); verr != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, verr.Error())
		return false
	}
	return true
}

// fail maps domain errors onto the response envelope.
func (s *service) fail(ctx *ginext.Context, err error, msg string) {
	var verr *team.ValidationError
	switch {
	case errors.As(err, &verr):
		dto.ValidationFailedError(ctx, verr.Violations)
	case errors.Is(err, identity.ErrUnauthenticated):
		dto.AuthRequiredError(ctx)
	case errors.Is(err, identity.ErrUnavailable):
		s.log.Warn().Err(err).Msg(msg)
		dto.ServiceUnavailableError(ctx)
	case errors.Is(err, payment.ErrGatewayUnavailable):
		s.log.Warn().Err(err).Msg(msg)
		dto.PaymentGatewayUnavailableError(ctx)
	case errors.Is(err, checkout.ErrPaymentNotVerified):
		dto.PaymentNotVerifiedError(ctx)
	case errors.Is(err, checkout.ErrSessionForbidden), errors.Is(err, checkout.ErrWrongSessionKind):
		dto.ForbiddenError(ctx)
	case errors.Is(err, repo.ErrSessionNotFound):
		dto.SessionNotFoundError(ctx)
	case errors.Is(err, repo.ErrRegistrationNotFound):
		dto.RegistrationNotFoundError(ctx)
	case errors.Is(err, catalog.ErrEventNotFound):
		dto.EventNotFoundError(ctx)
	case errors.Is(err, checkout.ErrUnknownCoupon):
		dto.CouponInvalidError(ctx)
	case errors.Is(err, checkout.ErrEmptyCart),
		errors.Is(err, checkout.ErrInvalidQuantity),
		errors.Is(err, checkout.ErrTeamEventInCart):
		dto.CartInvalidError(ctx, err.Error())
	case errors.Is(err, team.ErrNotTeamEvent):
		dto.BadResponseError(ctx, dto.FieldIncorrect, err.Error())
	case errors.Is(err, team.ErrRegistrationFailed):
		dto.RegistrationFailedError(ctx)
	case errors.Is(err, repo.ErrInvalidSlot):
		dto.InvalidSlotError(ctx)
	case errors.Is(err, repo.ErrTeamPass), errors.Is(err, repo.ErrNotTeamPass):
		dto.BadResponseError(ctx, dto.FieldIncorrect, err.Error())
	default:
		s.log.Error().Err(err).Msg(msg)
		dto.InternalServerError(ctx)
	}
}

func (s *service) ListEvents(ctx *ginext.Context) {
	dto.SuccessResponse(ctx, s.Catalog.List())
}

func (s *service) GetEvent(ctx *ginext.Context) {
	ev, err := s.Catalog.GetEvent(ctx.Param("id"))
	if err != nil {
		dto.EventNotFoundError(ctx)
		return
	}
	dto.SuccessResponse(ctx, ev)
}

func (s *service) Health(ctx *ginext.Context) {
	dto.SuccessResponse(ctx, map[string]string{"status": "up"})
}

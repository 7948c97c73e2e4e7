package service

import (
	"errors"
	"io"

	"github.com/wb-go/wbf/ginext"

	"infothon/internal/auth"
	"infothon/internal/checkout"
	"infothon/internal/dto"
	"infothon/internal/payment"
	"infothon/internal/team"
	"infothon/pkg/validator"
)

func (s *service) GetCart(ctx *ginext.Context) {
	u, _ := auth.CurrentUser(ctx)
	cart, err := s.Carts.Load(ctx, u.ID)
	if err != nil {
		s.fail(ctx, err, "failed to load cart")
		return
	}
	dto.SuccessResponse(ctx, cart)
}

// PutCart replaces the stored cart. A non-empty cart must price cleanly first.
func (s *service) PutCart(ctx *ginext.Context) {
	u, _ := auth.CurrentUser(ctx)
	var cart checkout.CartState
	if !s.bind(ctx, &cart) {
		return
	}
	if len(cart.Lines) == 0 {
		s.ClearCart(ctx)
		return
	}
	q, err := checkout.PriceQuote(s.Catalog, cart)
	if err != nil {
		s.fail(ctx, err, "failed to price cart")
		return
	}
	if err := s.Carts.Save(ctx, u.ID, cart); err != nil {
		s.fail(ctx, err, "failed to save cart")
		return
	}
	dto.SuccessResponse(ctx, q)
}

func (s *service) ClearCart(ctx *ginext.Context) {
	u, _ := auth.CurrentUser(ctx)
	if err := s.Carts.Clear(ctx, u.ID); err != nil {
		s.fail(ctx, err, "failed to clear cart")
		return
	}
	dto.SuccessResponse(ctx, checkout.CartState{})
}

func (s *service) Quote(ctx *ginext.Context) {
	var cart checkout.CartState
	if !s.bind(ctx, &cart) {
		return
	}
	q, err := checkout.PriceQuote(s.Catalog, cart)
	if err != nil {
		s.fail(ctx, err, "failed to price cart")
		return
	}
	dto.SuccessResponse(ctx, q)
}

// StartCheckout prices the posted cart, or the stored one when the body is empty.
func (s *service) StartCheckout(ctx *ginext.Context) {
	u, _ := auth.CurrentUser(ctx)

	var cart checkout.CartState
	if err := ctx.ShouldBindJSON(&cart); err != nil && !errors.Is(err, io.EOF) {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid JSON format")
		return
	}
	if len(cart.Lines) == 0 {
		stored, err := s.Carts.Load(ctx, u.ID)
		if err != nil {
			s.fail(ctx, err, "failed to load cart")
			return
		}
		if cart.Coupon != "" {
			stored.Coupon = cart.Coupon
		}
		cart = stored
	}
	if verr := validator.Validate(ctx, cart); verr != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, verr.Error())
		return
	}

	handle, err := s.Checkout.Start(ctx.Request.Context(), u, cart)
	if err != nil {
		s.fail(ctx, err, "failed to start checkout")
		return
	}
	dto.SuccessCreatedResponse(ctx, handle)
}

func (s *service) ConfirmCheckout(ctx *ginext.Context) {
	u, token := auth.CurrentUser(ctx)
	var conf payment.Confirmation
	if !s.bind(ctx, &conf) {
		return
	}
	res, err := s.Checkout.Complete(ctx.Request.Context(), token, u, ctx.Param("session"), conf)
	if err != nil {
		s.fail(ctx, err, "failed to complete checkout")
		return
	}
	dto.SuccessResponse(ctx, res)
}

func (s *service) StartTeam(ctx *ginext.Context) {
	u, _ := auth.CurrentUser(ctx)
	var roster team.Roster
	if err := ctx.ShouldBindJSON(&roster); err != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid JSON format")
		return
	}
	handle, err := s.Teams.Start(ctx.Request.Context(), u, roster)
	if err != nil {
		s.fail(ctx, err, "failed to start team registration")
		return
	}
	dto.SuccessCreatedResponse(ctx, handle)
}

func (s *service) ConfirmTeam(ctx *ginext.Context) {
	u, token := auth.CurrentUser(ctx)
	var conf payment.Confirmation
	if !s.bind(ctx, &conf) {
		return
	}
	res, err := s.Teams.Complete(ctx.Request.Context(), token, u, ctx.Param("session"), conf)
	if err != nil {
		s.fail(ctx, err, "failed to complete team registration")
		return
	}
	dto.SuccessResponse(ctx, res)
}

func (s *service) MyEvents(ctx *ginext.Context) {
	u, token := auth.CurrentUser(ctx)
	ids, err := s.Purchases.List(ctx.Request.Context(), token, u.ID)
	if err != nil {
		s.fail(ctx, err, "failed to list purchased events")
		return
	}
	if ids == nil {
		ids = []string{}
	}
	dto.SuccessResponse(ctx, dto.PurchasedEventsResponse{PurchasedEvents: ids})
}

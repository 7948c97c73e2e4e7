package service

import (
	"net/http"

	"github.com/skip2/go-qrcode"
	"github.com/wb-go/wbf/ginext"

	"infothon/internal/auth"
	"infothon/internal/dto"
	"infothon/internal/model"
)

const qrSize = 320

func (s *service) MyTickets(ctx *ginext.Context) {
	u, _ := auth.CurrentUser(ctx)
	regs, err := s.Repo.ListByUser(ctx.Request.Context(), u.ID)
	if err != nil {
		s.fail(ctx, err, "failed to list tickets")
		return
	}
	if regs == nil {
		regs = []model.Registration{}
	}
	dto.SuccessResponse(ctx, regs)
}

// TicketQR renders the ticket id as a PNG. The code carries the bare id only.
func (s *service) TicketQR(ctx *ginext.Context) {
	u, _ := auth.CurrentUser(ctx)
	reg, err := s.Repo.GetRegistration(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		s.fail(ctx, err, "failed to load ticket")
		return
	}
	if reg.UserID != u.ID {
		dto.RegistrationNotFoundError(ctx)
		return
	}
	png, err := qrcode.Encode(reg.TicketID, qrcode.Medium, qrSize)
	if err != nil {
		s.fail(ctx, err, "failed to render qr code")
		return
	}
	ctx.Header("Cache-Control", "private, max-age=86400")
	ctx.Data(http.StatusOK, "image/png", png)
}

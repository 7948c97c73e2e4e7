package service

import (
	"encoding/csv"
	"strconv"
	"strings"
	"time"

	"github.com/wb-go/wbf/ginext"

	"infothon/internal/auth"
	"infothon/internal/dto"
	"infothon/internal/model"
	"infothon/internal/scanner"
)

func (s *service) AdminLogin(ctx *ginext.Context) {
	var req dto.LoginRequest
	if !s.bind(ctx, &req) {
		return
	}
	if err := s.Operators.Check(req.Username, req.Password); err != nil {
		s.log.Warn().Str("username", req.Username).Msg("operator login rejected")
		dto.InvalidCredentialsError(ctx)
		return
	}
	token, err := s.Issuer.CreateAccessToken(req.Username, auth.RoleAdmin, "")
	if err != nil {
		s.fail(ctx, err, "failed to issue operator token")
		return
	}
	s.log.Info().Str("username", req.Username).Msg("operator logged in")
	dto.SuccessResponse(ctx, dto.LoginResponse{Token: token, Role: auth.RoleAdmin})
}

func (s *service) lookup(ctx *ginext.Context, p scanner.Payload) {
	reg, found, err := s.tickets.Lookup(ctx.Request.Context(), p.TicketID)
	if err != nil {
		s.fail(ctx, err, "failed to look up ticket")
		return
	}
	resp := dto.TicketLookupResponse{TicketID: p.TicketID, Found: found, LegacyPayload: p.Legacy}
	if found {
		resp.Ticket = reg
		resp.AlreadyCheckedIn = !reg.IsTeamPass && reg.Verified
		resp.FullyCheckedIn = reg.FullyCheckedIn()
	}
	dto.SuccessResponse(ctx, resp)
}

// Scan decodes a raw code payload and looks the ticket up.
func (s *service) Scan(ctx *ginext.Context) {
	var req dto.ScanRequest
	if !s.bind(ctx, &req) {
		return
	}
	p, err := scanner.ParsePayload(req.Payload)
	if err != nil {
		dto.InvalidQRError(ctx)
		return
	}
	s.lookup(ctx, p)
}

// LookupTicket answers 200 with found=false for an unknown id.
func (s *service) LookupTicket(ctx *ginext.Context) {
	s.lookup(ctx, scanner.Payload{TicketID: strings.TrimSpace(ctx.Param("id"))})
}

func (s *service) CheckIn(ctx *ginext.Context) {
	id := ctx.Param("id")
	changed, err := s.tickets.CheckIn(ctx.Request.Context(), id)
	if err != nil {
		s.fail(ctx, err, "failed to check in ticket")
		return
	}
	s.checkedIn(ctx, id, 0, changed)
}

func (s *service) CheckInMember(ctx *ginext.Context) {
	id := ctx.Param("id")
	slot, err := strconv.Atoi(ctx.Param("slot"))
	if err != nil {
		dto.FieldBadFormatError(ctx, "slot")
		return
	}
	changed, err := s.tickets.CheckInMember(ctx.Request.Context(), id, slot)
	if err != nil {
		s.fail(ctx, err, "failed to check in team member")
		return
	}
	s.checkedIn(ctx, id, slot, changed)
}

func (s *service) checkedIn(ctx *ginext.Context, id string, slot int, changed bool) {
	reg, _, err := s.tickets.Lookup(ctx.Request.Context(), id)
	if err != nil {
		s.fail(ctx, err, "failed to reload ticket")
		return
	}
	s.log.Info().
		Str("ticket_id", id).
		Int("slot", slot).
		Bool("changed", changed).
		Str("operator", auth.Operator(ctx)).
		Msg("check-in recorded")
	dto.SuccessResponse(ctx, dto.CheckInResponse{TicketID: id, Slot: slot, Changed: changed, Ticket: reg})
}

var exportHeader = []string{
	"ticket_id", "event_id", "event_name", "event_date", "attendee_name", "user_email",
	"is_team_pass", "team_name", "team_size", "members", "verified", "fully_checked_in",
	"amount_paid", "payment_id", "created_at",
}

func exportRow(r model.Registration) []string {
	members := make([]string, 0, len(r.Members))
	for _, m := range r.Members {
		mark := ""
		if m.Verified {
			mark = " [in]"
		}
		members = append(members, m.Name+mark)
	}
	return []string{
		r.TicketID, r.EventID, r.EventName, r.EventDate, r.AttendeeName, r.UserEmail,
		strconv.FormatBool(r.IsTeamPass), r.TeamName, strconv.Itoa(r.TeamSize), strings.Join(members, "; "),
		strconv.FormatBool(r.Verified), strconv.FormatBool(r.FullyCheckedIn()),
		strconv.FormatInt(r.AmountPaid, 10), r.PaymentID, r.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *service) ExportRegistrations(ctx *ginext.Context) {
	regs, err := s.Repo.ListAll(ctx.Request.Context())
	if err != nil {
		s.fail(ctx, err, "failed to list registrations")
		return
	}

	ctx.Header("Content-Type", "text/csv; charset=utf-8")
	ctx.Header("Content-Disposition", `attachment; filename="registrations.csv"`)
	w := csv.NewWriter(ctx.Writer)
	_ = w.Write(exportHeader)
	for _, r := range regs {
		_ = w.Write(exportRow(r))
	}
	w.Flush()
	if err := w.Error(); err != nil {
		s.log.Error().Err(err).Msg("failed to write csv export")
	}
}

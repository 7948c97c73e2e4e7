package scanner

import (
	"context"
	"errors"

	"infothon/internal/model"
	"infothon/internal/repo"
)

// StoreTickets serves Tickets straight from the registration store.
type StoreTickets struct {
	Repo repo.Repository
}

func (s StoreTickets) Lookup(ctx context.Context, ticketID string) (*model.Registration, bool, error) {
	reg, err := s.Repo.GetRegistration(ctx, ticketID)
	if errors.Is(err, repo.ErrRegistrationNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return reg, true, nil
}

func (s StoreTickets) CheckIn(ctx context.Context, ticketID string) (bool, error) {
	return s.Repo.MarkVerified(ctx, ticketID)
}

func (s StoreTickets) CheckInMember(ctx context.Context, ticketID string, slot int) (bool, error) {
	return s.Repo.MarkMemberVerified(ctx, ticketID, slot)
}

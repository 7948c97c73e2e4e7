package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"infothon/internal/model"
)

var (
	ErrRegistrationNotFound = errors.New("registration not found")
	ErrSessionNotFound      = errors.New("checkout session not found")
	ErrNotTeamPass          = errors.New("ticket is not a team pass")
	ErrTeamPass             = errors.New("ticket is a team pass")
	ErrInvalidSlot          = errors.New("member slot out of range")
)

// DB is the subset of *dbpg.DB (and *sql.DB) the repository needs.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type Repository interface {
	InsertRegistration(ctx context.Context, reg *model.Registration) (bool, error)
	GetRegistration(ctx context.Context, ticketID string) (*model.Registration, error)
	MarkVerified(ctx context.Context, ticketID string) (bool, error)
	MarkMemberVerified(ctx context.Context, ticketID string, slot int) (bool, error)
	ListByUser(ctx context.Context, userID string) ([]model.Registration, error)
	ListAll(ctx context.Context) ([]model.Registration, error)

	CreateCheckoutSession(ctx context.Context, s *model.CheckoutSession) error
	GetCheckoutSession(ctx context.Context, id string) (*model.CheckoutSession, error)
	UpdateCheckoutStatus(ctx context.Context, id, status, paymentID string) error
	AbandonCheckoutIfPending(ctx context.Context, id string) (bool, error)

	MigrateUp(migrationsDir string) error
	MigrateDown(migrationsDir string) error
}

type repository struct {
	db  DB
	log *zerolog.Logger
}

func NewRepository(db DB, log *zerolog.Logger) (Repository, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	return &repository{db: db, log: log}, nil
}

func (r *repository) MigrateUp(migrationsDir string) error {
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.up.sql"))
	if err != nil {
		return fmt.Errorf("failed to read migration files: %w", err)
	}
	sort.Strings(files)

	for _, file := range files {
		sqlBytes, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", file, err)
		}
		if _, err := r.db.ExecContext(context.Background(), string(sqlBytes)); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", file, err)
		}
	}

	r.log.Info().Msgf("Migrations applied successfully from %s", migrationsDir)
	return nil
}

func (r *repository) MigrateDown(migrationsDir string) error {
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.down.sql"))
	if err != nil {
		return fmt.Errorf("failed to read rollback files: %w", err)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(files)))

	for _, file := range files {
		sqlBytes, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read rollback file %s: %w", file, err)
		}
		if _, err := r.db.ExecContext(context.Background(), string(sqlBytes)); err != nil {
			return fmt.Errorf("failed to rollback migration %s: %w", file, err)
		}
	}

	r.log.Info().Msgf("Migrations rolled back successfully from %s", migrationsDir)
	return nil
}

// member_{1..5}_* columns are only known to this file; the rest of the code sees
// model.TeamMember values.
var memberFields = []string{"name", "email", "phone", "college", "verified"}

func memberColumn(slot int, field string) string {
	return fmt.Sprintf("member_%d_%s", slot, field)
}

var baseColumns = []string{
	"ticket_id", "user_id", "user_email", "attendee_name",
	"event_id", "event_name", "event_date", "verified",
	"is_team_pass", "team_id", "team_name", "team_size",
	"details_locked", "payment_status", "amount_paid", "payment_id", "created_at",
}

var registrationColumns = func() []string {
	cols := append([]string{}, baseColumns...)
	for slot := 1; slot <= model.MaxTeamMembers; slot++ {
		for _, f := range memberFields {
			cols = append(cols, memberColumn(slot, f))
		}
	}
	return cols
}()

var (
	selectRegistration = "SELECT " + strings.Join(registrationColumns, ", ") + " FROM registrations"
	insertRegistration = func() string {
		ph := make([]string, len(registrationColumns))
		for i := range ph {
			ph[i] = fmt.Sprintf("$%d", i+1)
		}
		return "INSERT INTO registrations (" + strings.Join(registrationColumns, ", ") +
			") VALUES (" + strings.Join(ph, ", ") + ") ON CONFLICT (ticket_id) DO NOTHING"
	}()
)

func registrationArgs(reg *model.Registration) []interface{} {
	args := []interface{}{
		reg.TicketID, reg.UserID, reg.UserEmail, reg.AttendeeName,
		reg.EventID, reg.EventName, reg.EventDate, reg.Verified,
		reg.IsTeamPass, reg.TeamID, reg.TeamName, reg.TeamSize,
		reg.DetailsLocked, reg.PaymentStatus, reg.AmountPaid, reg.PaymentID, reg.CreatedAt.UTC(),
	}
	for slot := 1; slot <= model.MaxTeamMembers; slot++ {
		var m model.TeamMember
		if slot <= reg.TeamSize {
			if got, ok := reg.Member(slot); ok {
				m = *got
			}
		}
		args = append(args, m.Name, m.Email, m.Phone, m.College, m.Verified)
	}
	return args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRegistration(row rowScanner) (*model.Registration, error) {
	var reg model.Registration
	dest := []interface{}{
		&reg.TicketID, &reg.UserID, &reg.UserEmail, &reg.AttendeeName,
		&reg.EventID, &reg.EventName, &reg.EventDate, &reg.Verified,
		&reg.IsTeamPass, &reg.TeamID, &reg.TeamName, &reg.TeamSize,
		&reg.DetailsLocked, &reg.PaymentStatus, &reg.AmountPaid, &reg.PaymentID, &reg.CreatedAt,
	}
	members := make([]model.TeamMember, model.MaxTeamMembers)
	for i := range members {
		members[i].Slot = i + 1
		dest = append(dest, &members[i].Name, &members[i].Email, &members[i].Phone, &members[i].College, &members[i].Verified)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	if reg.IsTeamPass {
		n := reg.TeamSize
		if n > model.MaxTeamMembers {
			n = model.MaxTeamMembers
		}
		reg.Members = members[:n]
	}
	return &reg, nil
}

// InsertRegistration writes one ticket row. It reports false, without error, when a row
// with the same ticket_id already exists, which makes retried inserts harmless.
func (r *repository) InsertRegistration(ctx context.Context, reg *model.Registration) (bool, error) {
	if reg.IsTeamPass && (reg.TeamSize < 1 || reg.TeamSize > model.MaxTeamMembers) {
		return false, fmt.Errorf("%w: team size %d", ErrInvalidSlot, reg.TeamSize)
	}
	res, err := r.db.ExecContext(ctx, insertRegistration, registrationArgs(reg)...)
	if err != nil {
		return false, fmt.Errorf("failed to insert registration %s: %w", reg.TicketID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}
	return n == 1, nil
}

func (r *repository) GetRegistration(ctx context.Context, ticketID string) (*model.Registration, error) {
	row := r.db.QueryRowContext(ctx, selectRegistration+" WHERE ticket_id = $1 LIMIT 1", ticketID)
	reg, err := scanRegistration(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRegistrationNotFound
		}
		return nil, fmt.Errorf("failed to get registration: %w", err)
	}
	return reg, nil
}

// MarkVerified flips verified false→true for an individual ticket. It reports whether
// this call changed the row; a second call on the same ticket is a no-op.
func (r *repository) MarkVerified(ctx context.Context, ticketID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE registrations
		SET verified = TRUE
		WHERE ticket_id = $1 AND is_team_pass = FALSE AND verified = FALSE
	`, ticketID)
	if err != nil {
		return false, fmt.Errorf("failed to verify ticket: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read update result: %w", err)
	}
	if n == 1 {
		return true, nil
	}

	reg, err := r.GetRegistration(ctx, ticketID)
	if err != nil {
		return false, err
	}
	if reg.IsTeamPass {
		return false, ErrTeamPass
	}
	return false, nil
}

func (r *repository) MarkMemberVerified(ctx context.Context, ticketID string, slot int) (bool, error) {
	if slot < 1 || slot > model.MaxTeamMembers {
		return false, fmt.Errorf("%w: %d", ErrInvalidSlot, slot)
	}
	col := memberColumn(slot, "verified")
	res, err := r.db.ExecContext(ctx, `
		UPDATE registrations
		SET `+col+` = TRUE
		WHERE ticket_id = $1 AND is_team_pass = TRUE AND team_size >= $2 AND `+col+` = FALSE
	`, ticketID, slot)
	if err != nil {
		return false, fmt.Errorf("failed to verify team member: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read update result: %w", err)
	}
	if n == 1 {
		return true, nil
	}

	reg, err := r.GetRegistration(ctx, ticketID)
	if err != nil {
		return false, err
	}
	if !reg.IsTeamPass {
		return false, ErrNotTeamPass
	}
	if slot > reg.TeamSize {
		return false, fmt.Errorf("%w: %d (team size %d)", ErrInvalidSlot, slot, reg.TeamSize)
	}
	return false, nil
}

func (r *repository) ListByUser(ctx context.Context, userID string) ([]model.Registration, error) {
	return r.list(ctx, selectRegistration+" WHERE user_id = $1 ORDER BY created_at ASC, ticket_id ASC", userID)
}

func (r *repository) ListAll(ctx context.Context) ([]model.Registration, error) {
	return r.list(ctx, selectRegistration+" ORDER BY event_id ASC, created_at ASC, ticket_id ASC")
}

func (r *repository) list(ctx context.Context, query string, args ...interface{}) ([]model.Registration, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list registrations: %w", err)
	}
	defer rows.Close()

	var regs []model.Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan registration: %w", err)
		}
		regs = append(regs, *reg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate registrations: %w", err)
	}
	return regs, nil
}

func (r *repository) CreateCheckoutSession(ctx context.Context, s *model.CheckoutSession) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO checkout_sessions (id, kind, user_id, user_email, order_id, amount, currency, status, payment_id, plan, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, s.ID, s.Kind, s.UserID, s.UserEmail, s.OrderID, s.Amount, s.Currency, s.Status, s.PaymentID,
		string(s.Plan), s.CreatedAt.UTC(), s.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create checkout session: %w", err)
	}
	return nil
}

func (r *repository) GetCheckoutSession(ctx context.Context, id string) (*model.CheckoutSession, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, kind, user_id, user_email, order_id, amount, currency, status, payment_id, plan, created_at, expires_at
		FROM checkout_sessions
		WHERE id = $1
	`, id)

	var (
		s    model.CheckoutSession
		plan string
	)
	if err := row.Scan(&s.ID, &s.Kind, &s.UserID, &s.UserEmail, &s.OrderID, &s.Amount, &s.Currency,
		&s.Status, &s.PaymentID, &plan, &s.CreatedAt, &s.ExpiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get checkout session: %w", err)
	}
	s.Plan = []byte(plan)
	return &s, nil
}

func (r *repository) UpdateCheckoutStatus(ctx context.Context, id, status, paymentID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE checkout_sessions
		SET status = $1, payment_id = COALESCE(NULLIF(CAST($2 AS TEXT), ''), payment_id)
		WHERE id = $3
	`, status, paymentID, id)
	if err != nil {
		return fmt.Errorf("failed to update checkout session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// AbandonCheckoutIfPending marks a session whose payment never arrived. Sessions that
// already moved on are left untouched.
func (r *repository) AbandonCheckoutIfPending(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE checkout_sessions
		SET status = 'abandoned'
		WHERE id = $1 AND status = 'pending'
	`, id)
	if err != nil {
		return false, fmt.Errorf("failed to abandon checkout session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read update result: %w", err)
	}
	return n == 1, nil
}

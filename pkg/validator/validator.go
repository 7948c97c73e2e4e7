package validator

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/go-playground/validator"

	"infothon/internal/ticketid"
)

var (
	global     *validator.Validate
	phoneRegex = regexp.MustCompile(`^\+?[0-9][0-9 \-]{6,17}$`)
)

const (
	ErrInvalidFormat      = "Invalid format"
	ErrInvalidEmail       = "Invalid email"
	ErrInvalidPhone       = "Invalid phone number"
	ErrInvalidTicketID    = "Invalid ticket id"
	ErrFieldRequired      = "Field is required"
	ErrFieldExceedsMaxLen = "Field exceeds maximum length"
	ErrFieldBelowMinLen   = "Field is below minimum length"
	ErrFieldExceedsMaxVal = "Field exceeds maximum value"
	ErrFieldBelowMinVal   = "Field is below minimum value"
	ErrUnknownValidation  = "Unknown validation error"
)

func init() {
	SetValidator(New())
}

func New() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("phone", validatePhone)
	_ = v.RegisterValidation("ticketid", validateTicketID)
	_ = v.RegisterValidation("positive", validatePositiveInt)
	return v
}

func SetValidator(v *validator.Validate) {
	global = v
}

func Validator() *validator.Validate {
	return global
}

func validatePhone(fl validator.FieldLevel) bool {
	return phoneRegex.MatchString(strings.TrimSpace(fl.Field().String()))
}

func validateTicketID(fl validator.FieldLevel) bool {
	return ticketid.Valid(fl.Field().String())
}

func validatePositiveInt(fl validator.FieldLevel) bool {
	val, ok := fl.Field().Interface().(int)
	return ok && val > 0
}

// Validate reports the first violation only.
func Validate(ctx context.Context, structure any) error {
	msgs := parseValidationErrors(Validator().StructCtx(ctx, structure))
	if len(msgs) == 0 {
		return nil
	}
	return errors.New(msgs[0])
}

// ValidateAll reports every violation, in field order.
func ValidateAll(ctx context.Context, structure any) []string {
	return parseValidationErrors(Validator().StructCtx(ctx, structure))
}

func parseValidationErrors(err error) []string {
	if err == nil {
		return nil
	}
	vErrors, ok := err.(validator.ValidationErrors)
	if !ok || len(vErrors) == 0 {
		return nil
	}
	out := make([]string, 0, len(vErrors))
	for _, ve := range vErrors {
		out = append(out, message(ve)+": "+ve.Namespace())
	}
	return out
}

func message(ve validator.FieldError) string {
	switch ve.Tag() {
	case "required":
		return ErrFieldRequired
	case "email":
		return ErrInvalidEmail
	case "phone":
		return ErrInvalidPhone
	case "ticketid":
		return ErrInvalidTicketID
	case "max":
		return ErrFieldExceedsMaxLen
	case "min":
		return ErrFieldBelowMinLen
	case "lt", "lte":
		return ErrFieldExceedsMaxVal
	case "gt", "gte":
		return ErrFieldBelowMinVal
	case "positive":
		return "Value must be positive"
	case "oneof":
		return ErrInvalidFormat
	default:
		return ErrUnknownValidation
	}
}

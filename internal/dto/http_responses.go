package dto

import (
	"net/http"

	"github.com/wb-go/wbf/ginext"
)

const (
	FieldBadFormat     = "FIELD_BADFORMAT"
	FieldIncorrect     = "FIELD_INCORRECT"
	ServiceUnavailable = "SERVICE_UNAVAILABLE"
	InternalError      = "Service is currently unavailable. Please try again later."

	AuthRequired              = "AUTH_REQUIRED"
	Forbidden                 = "FORBIDDEN"
	InvalidCredentials        = "INVALID_CREDENTIALS"
	EventNotFound             = "EVENT_NOT_FOUND"
	SessionNotFound           = "SESSION_NOT_FOUND"
	RegistrationNotFound      = "REGISTRATION_NOT_FOUND"
	CouponInvalid             = "COUPON_INVALID"
	CartInvalid               = "CART_INVALID"
	ValidationFailed          = "VALIDATION_FAILED"
	PaymentGatewayUnavailable = "PAYMENT_GATEWAY_UNAVAILABLE"
	PaymentNotVerified        = "PAYMENT_NOT_VERIFIED"
	RegistrationFailed        = "REGISTRATION_FAILED"
	InvalidQR                 = "INVALID_QR"
	InvalidSlot               = "INVALID_SLOT"
)

type Response struct {
	Status string `json:"status"`
	Error  *Error `json:"error,omitempty"`
	Data   any    `json:"data,omitempty"`
}

type Error struct {
	Code       string   `json:"code"`
	Desc       string   `json:"desc"`
	Violations []string `json:"violations,omitempty"`
}

func ErrorResponse(c *ginext.Context, status int, code, desc string) {
	c.JSON(status, Response{
		Status: "error",
		Error: &Error{
			Code: code,
			Desc: desc,
		},
	})
}

func BadResponseError(c *ginext.Context, code, desc string) {
	ErrorResponse(c, http.StatusBadRequest, code, desc)
}

func InternalServerError(c *ginext.Context) {
	ErrorResponse(c, http.StatusInternalServerError, ServiceUnavailable, InternalError)
}

func ServiceUnavailableError(c *ginext.Context) {
	ErrorResponse(c, http.StatusServiceUnavailable, ServiceUnavailable, InternalError)
}

func FieldBadFormatError(c *ginext.Context, fieldName string) {
	BadResponseError(c, FieldBadFormat, "Field '"+fieldName+"' has bad format")
}

func FieldIncorrectError(c *ginext.Context, fieldName string) {
	BadResponseError(c, FieldIncorrect, "Field '"+fieldName+"' is incorrect")
}

func AuthRequiredError(c *ginext.Context) {
	ErrorResponse(c, http.StatusUnauthorized, AuthRequired, "Please log in to continue")
}

func ForbiddenError(c *ginext.Context) {
	ErrorResponse(c, http.StatusForbidden, Forbidden, "You are not allowed to do this")
}

func InvalidCredentialsError(c *ginext.Context) {
	ErrorResponse(c, http.StatusUnauthorized, InvalidCredentials, "Invalid username or password")
}

func EventNotFoundError(c *ginext.Context) {
	ErrorResponse(c, http.StatusNotFound, EventNotFound, "Event not found")
}

func SessionNotFoundError(c *ginext.Context) {
	ErrorResponse(c, http.StatusNotFound, SessionNotFound, "Checkout session not found")
}

func RegistrationNotFoundError(c *ginext.Context) {
	ErrorResponse(c, http.StatusNotFound, RegistrationNotFound, "Ticket not found")
}

func CouponInvalidError(c *ginext.Context) {
	BadResponseError(c, CouponInvalid, "Invalid coupon code")
}

func CartInvalidError(c *ginext.Context, desc string) {
	BadResponseError(c, CartInvalid, desc)
}

func ValidationFailedError(c *ginext.Context, violations []string) {
	c.JSON(http.StatusBadRequest, Response{
		Status: "error",
		Error: &Error{
			Code:       ValidationFailed,
			Desc:       "Please fix the highlighted fields",
			Violations: violations,
		},
	})
}

func PaymentGatewayUnavailableError(c *ginext.Context) {
	ErrorResponse(c, http.StatusServiceUnavailable, PaymentGatewayUnavailable, "Payments are temporarily unavailable. Please try again later.")
}

func PaymentNotVerifiedError(c *ginext.Context) {
	ErrorResponse(c, http.StatusPaymentRequired, PaymentNotVerified, "Payment could not be verified")
}

func RegistrationFailedError(c *ginext.Context) {
	ErrorResponse(c, http.StatusInternalServerError, RegistrationFailed, "Registration failed, contact support")
}

func InvalidQRError(c *ginext.Context) {
	BadResponseError(c, InvalidQR, "Invalid QR format")
}

func InvalidSlotError(c *ginext.Context) {
	BadResponseError(c, InvalidSlot, "No team member in this slot")
}

func SuccessResponse(c *ginext.Context, data any) {
	c.JSON(http.StatusOK, Response{
		Status: "ok",
		Data:   data,
	})
}

func SuccessCreatedResponse(c *ginext.Context, data any) {
	c.JSON(http.StatusCreated, Response{
		Status: "ok",
		Data:   data,
	})
}

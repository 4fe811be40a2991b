package parking

import (
	"errors"
	"fmt"
)

// Message codes surfaced to API callers. The HTTP layer maps each code to a
// status and a bilingual message; everything below the transport speaks in
// these codes.
const (
	CodeSuccess              = 0
	CodeInternal             = 1
	CodeNotFound             = 2
	CodeBadRequest           = 3
	CodeInputError           = 4
	CodeOperationFailed      = 5
	CodeForbidden            = 6
	CodeBadCredentials       = 7
	CodeDuplicateZoneName    = 8
	CodeDuplicateIP          = 9
	CodeDuplicateSerial      = 10
	CodeDuplicateZonePricing = 11
	CodeDuplicateName        = 12
	CodeBillSettled          = 14
	CodePaymentSucceeded     = 16
)

// Error is the value every component returns across boundaries. It carries
// the caller-facing msg code plus the wrapped cause for logs.
type Error struct {
	Code    int
	Message string
	Persian string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (code %d): %v", e.Message, e.Code, e.Err)
	}
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on msg code so sentinels compare with errors.Is even after
// wrapping via WithCause.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code && e.Message == t.Message
	}
	return false
}

// WithCause returns a copy of the sentinel carrying the underlying error.
func (e *Error) WithCause(err error) *Error {
	return &Error{Code: e.Code, Message: e.Message, Persian: e.Persian, Err: err}
}

var (
	ErrInternal             = &Error{Code: CodeInternal, Message: "internal_error", Persian: "خطای داخلی"}
	ErrNotFound             = &Error{Code: CodeNotFound, Message: "not_found", Persian: "یافت نشد"}
	ErrBadRequest           = &Error{Code: CodeBadRequest, Message: "bad_request", Persian: "درخواست نامعتبر"}
	ErrInputError           = &Error{Code: CodeInputError, Message: "input_error", Persian: "ورودی نامعتبر"}
	ErrOperationFailed      = &Error{Code: CodeOperationFailed, Message: "operation_failed", Persian: "عملیات ناموفق"}
	ErrForbidden            = &Error{Code: CodeForbidden, Message: "forbidden", Persian: "دسترسی غیرمجاز"}
	ErrBadCredentials       = &Error{Code: CodeBadCredentials, Message: "bad_credentials", Persian: "اطلاعات ورود نادرست"}
	ErrDuplicateZoneName    = &Error{Code: CodeDuplicateZoneName, Message: "duplicate_zone_name", Persian: "نام زون تکراری است"}
	ErrDuplicateIP          = &Error{Code: CodeDuplicateIP, Message: "duplicate_ip", Persian: "آی‌پی تکراری است"}
	ErrDuplicateSerial      = &Error{Code: CodeDuplicateSerial, Message: "duplicate_serial", Persian: "سریال تکراری است"}
	ErrDuplicateZonePricing = &Error{Code: CodeDuplicateZonePricing, Message: "duplicate_zone_pricing", Persian: "تعرفه زون تکراری است"}
	ErrDuplicateName        = &Error{Code: CodeDuplicateName, Message: "duplicate_name", Persian: "نام تکراری است"}
	ErrBillSettled          = &Error{Code: CodeBillSettled, Message: "bill_already_settled", Persian: "قبض قبلا پرداخت شده است"}

	// Billing-specific failures share the operation_failed code but keep
	// distinct messages so callers can tell them apart.
	ErrNoPrice          = &Error{Code: CodeOperationFailed, Message: "no_price", Persian: "تعرفه‌ای برای زون یافت نشد"}
	ErrUnsuccessfulPay  = &Error{Code: CodeOperationFailed, Message: "unsuccessfully_pay", Persian: "پرداخت ناموفق"}
	ErrInvalidPlateText = &Error{Code: CodeInputError, Message: "invalid_plate", Persian: "پلاک نامعتبر"}
)

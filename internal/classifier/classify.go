package classifier

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

const (
	maxCodeLen    = 100
	maxMessageLen = 200
)

// Error is a failure that has been classified exactly once.
type Error struct {
	Category Category
	Code     string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return e.Category.String() + ": " + e.Code + ": " + e.Message
	}
	return e.Category.String() + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ShortMessage returns the message truncated for summaries and tables.
func (e *Error) ShortMessage() string {
	return truncate(e.Message, maxMessageLen)
}

// New builds a classified error with an explicit category.
func New(category Category, code, message string) *Error {
	return &Error{Category: category, Code: truncate(code, maxCodeLen), Message: message}
}

// WithCategory classifies err with a category chosen by the caller.
func WithCategory(err error, category Category) *Error {
	if err == nil {
		return nil
	}
	e := Wrap(err)
	return &Error{Category: category, Code: e.Code, Message: e.Message, Err: err}
}

// Wrap classifies err. An error that already carries a classification is
// returned unchanged so categories are never re-interpreted downstream.
func Wrap(err error) *Error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}
	return &Error{
		Category: classify(err),
		Code:     truncate(ErrorCode(err), maxCodeLen),
		Message:  errorMessage(err),
		Err:      err,
	}
}

// Classify returns the category of err.
func Classify(err error) Category {
	if err == nil {
		return Unknown
	}
	return Wrap(err).Category
}

// ErrorCode extracts the provider error code, if any.
func ErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

func errorMessage(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorMessage() != "" {
		return apiErr.ErrorMessage()
	}
	return err.Error()
}

func classify(err error) Category {
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	if errors.Is(err, context.Canceled) {
		return Unknown
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if c, ok := classifyCode(apiErr.ErrorCode()); ok {
			return c
		}
	}

	var statusErr interface{ HTTPStatusCode() int }
	if errors.As(err, &statusErr) {
		if c, ok := classifyStatus(statusErr.HTTPStatusCode()); ok {
			return c
		}
	}

	if c, ok := classifyTransport(err); ok {
		return c
	}

	if c, ok := classifyMessage(err.Error()); ok {
		return c
	}
	return Unknown
}

var codeCategories = map[string]Category{
	"Throttling":                             Throttled,
	"ThrottlingException":                    Throttled,
	"ThrottledException":                     Throttled,
	"TooManyRequestsException":               Throttled,
	"RequestLimitExceeded":                   Throttled,
	"ProvisionedThroughputExceededException": Throttled,
	"LimitExceededException":                 Throttled,
	"RequestThrottled":                       Throttled,
	"RequestThrottledException":              Throttled,
	"SlowDown":                               Throttled,
	"RateExceeded":                           Throttled,
	"PriorRequestNotComplete":                Throttled,

	"AccessDenied":                PermissionDenied,
	"AccessDeniedException":       PermissionDenied,
	"UnauthorizedOperation":       PermissionDenied,
	"UnauthorizedAccess":          PermissionDenied,
	"AuthFailure":                 PermissionDenied,
	"InvalidClientTokenId":        PermissionDenied,
	"SignatureDoesNotMatch":       PermissionDenied,
	"ExpiredToken":                PermissionDenied,
	"ExpiredTokenException":       PermissionDenied,
	"UnrecognizedClientException": PermissionDenied,
	"ForbiddenException":          PermissionDenied,
	"UnauthorizedException":       PermissionDenied,
	"OptInRequired":               PermissionDenied,

	"NoSuchEntity":              NotFound,
	"NoSuchBucket":              NotFound,
	"ResourceNotFoundException": NotFound,

	"ServiceUnavailable":          ServiceUnavailable,
	"ServiceUnavailableException": ServiceUnavailable,
	"Unavailable":                 ServiceUnavailable,
	"InternalError":               ServiceUnavailable,
	"InternalFailure":             ServiceUnavailable,
	"InternalServerError":         ServiceUnavailable,
	"InternalServerException":     ServiceUnavailable,

	"RequestTimeout":          Timeout,
	"RequestTimeoutException": Timeout,
}

func classifyCode(code string) (Category, bool) {
	if code == "" {
		return Unknown, false
	}
	if c, ok := codeCategories[code]; ok {
		return c, true
	}
	if strings.HasSuffix(code, "NotFound") || strings.HasSuffix(code, "NotFoundException") {
		return NotFound, true
	}
	return Unknown, false
}

func classifyStatus(status int) (Category, bool) {
	switch {
	case status == http.StatusTooManyRequests:
		return Throttled, true
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return PermissionDenied, true
	case status == http.StatusNotFound:
		return NotFound, true
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return Timeout, true
	case status >= 500:
		return ServiceUnavailable, true
	default:
		return Unknown, false
	}
}

func classifyTransport(err error) (Category, bool) {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Timeout, true
	}

	var sendErr *smithyhttp.RequestSendError
	if errors.As(err, &sendErr) {
		return NetworkOrDispatch, true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return NetworkOrDispatch, true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return NetworkOrDispatch, true
	}
	return Unknown, false
}

// Message patterns catch failures that arrive without a structured code, for
// example errors surfaced by intermediaries or custom collectors.
var messagePatterns = []struct {
	category Category
	patterns []string
}{
	{Throttled, []string{"throttl", "too many requests", "rate exceeded", "request limit exceeded", "slow down"}},
	{Timeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{NetworkOrDispatch, []string{"dispatch failure", "dispatchfailure", "connection", "network", "dns", "socket", "no such host"}},
	{ServiceUnavailable, []string{"service unavailable", "serviceunavailable", "internal error", "internalerror", "internal server error", " 503", " 500"}},
	{PermissionDenied, []string{"access denied", "accessdenied", "unauthorized", "not authorized", "forbidden", "authfailure", "invalidclienttokenid", "signaturedoesnotmatch"}},
	{NotFound, []string{"not found", "notfound", "does not exist", "no such"}},
}

func classifyMessage(msg string) (Category, bool) {
	lower := strings.ToLower(msg)
	for _, group := range messagePatterns {
		for _, p := range group.patterns {
			if strings.Contains(lower, p) {
				return group.category, true
			}
		}
	}
	return Unknown, false
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit-3]) + "..."
}

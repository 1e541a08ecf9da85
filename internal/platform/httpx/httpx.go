// Package httpx holds the echo plumbing shared by the HTTP handlers: request binding and
// validation, the error envelope, client IP propagation and per-IP throttling.
package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"builder-claims/backend/internal/apperr"
)

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Error ErrorInfo `json:"error"`
}

// ErrorInfo carries a stable code and a user-safe message.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Validator adapts go-playground/validator to echo.Validator.
type Validator struct {
	v *validator.Validate
}

// NewValidator returns a struct validator.
func NewValidator() *Validator {
	return &Validator{v: validator.New(validator.WithRequiredStructEnabled())}
}

// Validate checks i against its `validate` tags.
func (cv *Validator) Validate(i any) error {
	return cv.v.Struct(i)
}

// Bind decodes the request into v and validates it. Failures are ErrInvalidArgument.
func Bind(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return apperr.Invalid("malformed request body")
	}
	if err := c.Validate(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, strings.ToLower(fe.Field())+" "+fe.Tag())
			}
			return apperr.Invalid(strings.Join(fields, ", "))
		}
		return apperr.Invalid(err.Error())
	}
	return nil
}

// ErrorHandler renders apperr kinds as the error envelope. Unknown errors become 500 and are
// logged; expected kinds are not.
func ErrorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status, body := render(err)
		if status >= http.StatusInternalServerError {
			logger.Error("http: request failed",
				zap.String("method", c.Request().Method),
				zap.String("path", c.Path()),
				zap.Int("status", status),
				zap.Error(err))
		}
		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, body)
		}
		if err != nil {
			logger.Warn("http: write error response", zap.Error(err))
		}
	}
}

func render(err error) (int, ErrorBody) {
	if kind := apperr.Kind(err); kind != nil {
		body := ErrorBody{Error: ErrorInfo{Code: kind.Code, Message: kind.Message}}
		if kind == apperr.ErrInvalidArgument || kind == apperr.ErrIneligible {
			body.Error.Details = causeOf(err, kind)
		}
		return kind.Status, body
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if s, ok := he.Message.(string); ok {
			msg = s
		}
		return he.Code, ErrorBody{Error: ErrorInfo{Code: "HTTP_ERROR", Message: msg}}
	}
	return http.StatusInternalServerError, ErrorBody{Error: ErrorInfo{Code: "INTERNAL", Message: "internal server error"}}
}

// causeOf returns the text the error adds beyond the kind's message.
func causeOf(err error, kind *apperr.Error) string {
	return strings.TrimPrefix(err.Error(), kind.Message+": ")
}

type ctxKey struct{ name string }

var clientIPKey = ctxKey{"client_ip"}

// WithClientIP returns ctx carrying the caller's IP.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

// ClientIP returns the caller IP stored by ClientIPMiddleware, or "".
func ClientIP(ctx context.Context) string {
	v, _ := ctx.Value(clientIPKey).(string)
	return v
}

// ClientIPMiddleware stores echo's RealIP in the request context so services and the audit
// logger can read it without an echo.Context.
func ClientIPMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			c.SetRequest(req.WithContext(WithClientIP(req.Context(), c.RealIP())))
			return next(c)
		}
	}
}

// Package apierror renders tagged errors as the JSON error body of the HTTP surfaces.
package apierror

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"tzlogs/pkg/failures"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const (
	RequestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
)

// RequestID tags every request with an id, reusing the caller's one when present.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// AdminToken rejects requests without the configured bearer token or X-Admin-Token header.
func AdminToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader("X-Admin-Token")
		if got == "" {
			got = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}

		if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"ok":         false,
				"error":      "unauthorized",
				"message":    "missing or invalid admin token",
				"request_id": c.GetString(requestIDKey),
			})
			return
		}
		c.Next()
	}
}

// Respond writes err with the status its kind maps to.
func Respond(c *gin.Context, err error) {
	kind := failures.KindOf(err)
	c.JSON(failures.HTTPStatus(kind), gin.H{
		"ok":         false,
		"error":      kind,
		"message":    err.Error(),
		"request_id": c.GetString(requestIDKey),
	})
}

// BindFailed writes a validation error for a failed ShouldBind call.
func BindFailed(c *gin.Context, err error) {
	fields := map[string]string{}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			fields[fieldName(fe)] = describe(fe)
		}
	}

	body := gin.H{
		"ok":         false,
		"error":      failures.KindValidation,
		"message":    err.Error(),
		"request_id": c.GetString(requestIDKey),
	}
	if len(fields) > 0 {
		body["fields"] = fields
	}
	c.JSON(http.StatusBadRequest, body)
}

func fieldName(fe validator.FieldError) string {
	name := fe.Field()
	if name == "" {
		return fe.Namespace()
	}
	return toSnake(name)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "gtefield":
		return "must not be lower than " + toSnake(fe.Param())
	case "oneof":
		return "must be one of " + fe.Param()
	default:
		return "failed " + fe.Tag()
	}
}

// toSnake turns the Go field name into the wire name.
func toSnake(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			if i > 0 && (s[i-1] >= 'a' && s[i-1] <= 'z' || s[i-1] >= '0' && s[i-1] <= '9') {
				b.WriteByte('_')
			}
			c += 'a' - 'A'
		}
		b.WriteByte(c)
	}
	return b.String()
}

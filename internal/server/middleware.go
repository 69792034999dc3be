package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/shineum/mail-gateway/internal/email"
	"github.com/shineum/mail-gateway/internal/logging"
)

// RequestIDHeader is echoed on every response.
const RequestIDHeader = "X-Request-ID"

// response is the body of every send-email reply and of the error replies
// produced by middleware.
type response struct {
	Success bool   `json:"sucesso"`
	Message string `json:"mensagem"`
	Detail  any    `json:"detalhes,omitempty"`
}

func abortWith(c *gin.Context, status int, kind email.Kind, message string) {
	c.Set(ctxKind, kind)
	c.AbortWithStatusJSON(status, response{Message: message})
}

// Context keys set by handlers for the request log.
const (
	ctxKind = "kind"
)

// requestID reuses a caller-supplied X-Request-ID or generates one, stores
// it in the request context for logging and echoes it on the response.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Header(RequestIDHeader, id)
		c.Request = c.Request.WithContext(logging.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// requestLogger logs one record per request after it completes.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if kind, ok := c.Get(ctxKind); ok {
			attrs = append(attrs, "kind", fmt.Sprint(kind))
		}

		level := slog.LevelInfo
		switch {
		case status >= http.StatusInternalServerError:
			level = slog.LevelError
		case status >= http.StatusBadRequest:
			level = slog.LevelWarn
		}
		logger.Log(c.Request.Context(), level, "request completed", attrs...)
	}
}

// recovery turns a panic in a handler into the generic 500 reply.
func recovery(logger *slog.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, err any) {
		logger.ErrorContext(c.Request.Context(), "unhandled panic in handler",
			"panic", fmt.Sprint(err),
			"path", c.Request.URL.Path,
		)
		abortWith(c, http.StatusInternalServerError, email.KindUnexpected, msgServerError)
	})
}

// requireAPIKey rejects requests the authenticator does not accept.
func requireAPIKey(auth Authenticator, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !auth.Check(c.Request.Header) {
			logger.WarnContext(c.Request.Context(), "API key rejected", "client_ip", c.ClientIP())
			abortWith(c, http.StatusUnauthorized, email.KindUnauthorized, msgUnauthorized)
			return
		}
		c.Next()
	}
}

// bodyLimit caps the request body at limit bytes. Declared lengths over the
// limit are refused immediately; undeclared ones fail on read.
func bodyLimit(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit <= 0 {
			c.Next()
			return
		}
		if c.Request.ContentLength > limit {
			abortWith(c, http.StatusRequestEntityTooLarge, email.KindPayloadTooLarge, msgRequestTooLarge)
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

// Package audit records security-relevant session events: redirects to login, expired or
// rejected credentials and logouts.
package audit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"reporthub.io/internal/auth"
	"reporthub.io/internal/obs"
)

const (
	EventRedirect          = "session.redirect"
	EventCredentialExpired = "session.credential_expired"
	EventCredentialInvalid = "session.credential_malformed"
	EventUnauthorized      = "session.unauthorized"
	EventSnapshotFailed    = "session.snapshot_failed"
	EventLogout            = "session.logout"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// Event is one audit entry as handed to a Sink.
type Event struct {
	Name      string
	RequestID string
	Username  string
	Fields    map[string]any
	At        time.Time
}

// Sink persists audit events in addition to the log.
type Sink interface {
	AppendAudit(ctx context.Context, e Event) error
}

var (
	sinkMu sync.RWMutex
	sink   Sink
)

// SetSink installs the persistent sink. Nil disables persistence.
func SetSink(s Sink) {
	sinkMu.Lock()
	sink = s
	sinkMu.Unlock()
}

func currentSink() Sink {
	sinkMu.RLock()
	defer sinkMu.RUnlock()
	return sink
}

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the audit request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit log entry enriched with request and user context. A sink
// failure is logged and returned; the log line is written regardless.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	e := Event{
		Name:      event,
		RequestID: RequestIDFromContext(ctx),
		Fields:    make(map[string]any, len(fields)),
		At:        time.Now().UTC(),
	}
	if user, ok := auth.UserFromContext(ctx); ok {
		e.Username = user.Username
	}
	for k, v := range fields {
		e.Fields[k] = v
	}

	zf := []zap.Field{
		zap.String("type", "audit"),
		zap.String("event", e.Name),
		zap.Any("fields", e.Fields),
	}
	if e.RequestID != "" {
		zf = append(zf, zap.String("request_id", e.RequestID))
	}
	if e.Username != "" {
		zf = append(zf, zap.String("username", e.Username))
	}
	obs.Logger().Info("audit", zf...)

	s := currentSink()
	if s == nil {
		return nil
	}
	if err := s.AppendAudit(ctx, e); err != nil {
		obs.Logger().Warn("audit sink append failed", zap.String("event", e.Name), zap.Error(err))
		return err
	}
	return nil
}

package webfront

import (
	"context"
	"io"
	"time"

	"github.com/webfront-go/webfront/auth"
	internalaudit "github.com/webfront-go/webfront/internal/audit"
)

// AuditEvent is a structured security record emitted by the Service.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the Service's audit
// dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink drops audit events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink buffers audit events into a channel for consumption.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON object per event to a writer.
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink creates a [ChannelSink] with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] around w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

const (
	auditEventLoginSuccess           = "login_success"
	auditEventLoginFailure           = "login_failure"
	auditEventLoginRateLimited       = "login_rate_limited"
	auditEventRelogin                = "login_identity_switch"
	auditEventLoginWhileImpersonated = "login_while_impersonation"
	auditEventDirectLoginRejected    = "direct_login_rejected"
	auditEventRefreshSuccess         = "refresh_success"
	auditEventRefreshRevoked         = "refresh_revoked"
	auditEventRefreshRateLimited     = "refresh_rate_limited"
	auditEventTokenInvalid           = "token_invalid"
	auditEventImpersonationStarted   = "impersonation_started"
	auditEventImpersonationCleared   = "impersonation_cleared"
	auditEventImpersonationForbidden = "impersonation_forbidden"
	auditEventLogout                 = "logout"
	auditEventLogoutFull             = "logout_full"
)

func (s *Service) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	info *auth.Info,
	scheme string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if s == nil || s.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if info != nil {
		event.UserID = info.UnsafeUser().ID()
		event.ActualUserID = info.UnsafeActualUser().ID()
		event.DeviceID = info.DeviceID()
	}
	event.Scheme = scheme
	if err != nil {
		event.Error = err.Error()
	}

	s.audit.Emit(ctx, event)
}

// AuditDropped returns how many audit events were discarded because the
// dispatcher buffer was full.
func (s *Service) AuditDropped() uint64 {
	return s.audit.Dropped()
}

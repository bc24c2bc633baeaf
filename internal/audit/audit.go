package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Event types emitted by the engine.
const (
	EventLogin            = "login"
	EventLogin2FA         = "login_2fa"
	EventRefresh          = "refresh"
	EventRotate           = "rotate"
	EventLogout           = "logout"
	EventLogoutAll        = "logout_all"
	EventGuestBootstrap   = "guest_bootstrap"
	EventGuestConvert     = "guest_convert"
	EventRegister         = "register"
	EventProviderLogin    = "provider_login"
	EventProviderLink     = "provider_link"
	EventProviderUnlink   = "provider_unlink"
	EventTwoFactorEnable  = "totp_enable"
	EventTwoFactorDisable = "totp_disable"
	EventAccountDelete    = "account_delete"
	EventAccountRestore   = "account_restore"
)

// Event is one audit record. UserUUID is empty when the subject could
// not be resolved, for example a failed login against an unknown email.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	UserUUID  string            `json:"user_uuid,omitempty"`
	DeviceID  string            `json:"device_id,omitempty"`
	Provider  string            `json:"provider,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Sink receives emitted audit events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink writes audit events into a buffered channel.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan Event, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}

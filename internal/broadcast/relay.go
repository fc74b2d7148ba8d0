package broadcast

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Zerg00s/captions-relay/internal/transcript"
)

// NATS subjects for cross-context messaging. Capture publishes, viewer
// contexts subscribe; the status subject is request/response.
const (
	SubjectLiveDelta    = "captions.live.delta"
	SubjectMeetingEnded = "captions.meeting.ended"
	SubjectLiveStatus   = "captions.live.status"
	SubjectSessionSaved = "captions.session.saved"
)

// LiveStatus is the attach handshake payload: is the capture context
// streaming, and how many entries does it hold.
type LiveStatus struct {
	Streaming bool `json:"streaming"`
	Count     int  `json:"count"`
}

// Relay bridges bus deltas onto NATS for viewers in other processes.
// Every publish is fire-and-forget: a missing listener or send failure is
// swallowed, never surfaced to the capture path.
type Relay struct {
	nc *nats.Conn
}

// Connect dials NATS with indefinite reconnects.
func Connect(natsURL string) (*Relay, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &Relay{nc: nc}, nil
}

// PublishDelta relays one transcript change.
func (r *Relay) PublishDelta(d transcript.Delta) {
	payload, err := json.Marshal(d)
	if err != nil {
		slog.Debug("delta not relayed", "error", err)
		return
	}
	if err := r.nc.Publish(SubjectLiveDelta, payload); err != nil {
		slog.Debug("delta not relayed", "error", err)
	}
}

// PublishMeetingEnded signals viewers that the stream is over.
func (r *Relay) PublishMeetingEnded() {
	if err := r.nc.Publish(SubjectMeetingEnded, nil); err != nil {
		slog.Debug("meeting-ended not relayed", "error", err)
	}
}

// PublishSessionSaved announces a newly persisted session id.
func (r *Relay) PublishSessionSaved(sessionID string) {
	payload, _ := json.Marshal(map[string]string{"session_id": sessionID})
	if err := r.nc.Publish(SubjectSessionSaved, payload); err != nil {
		slog.Debug("session-saved not relayed", "error", err)
	}
}

// ServeStatus answers viewer attach handshakes with the current live
// status.
func (r *Relay) ServeStatus(fn func() LiveStatus) error {
	_, err := r.nc.Subscribe(SubjectLiveStatus, func(msg *nats.Msg) {
		payload, err := json.Marshal(fn())
		if err != nil {
			return
		}
		if err := msg.Respond(payload); err != nil {
			slog.Debug("status response not delivered", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", SubjectLiveStatus, err)
	}
	return nil
}

// RequestStatus performs the attach handshake from the viewer side.
func (r *Relay) RequestStatus(timeout time.Duration) (LiveStatus, error) {
	msg, err := r.nc.Request(SubjectLiveStatus, nil, timeout)
	if err != nil {
		return LiveStatus{}, fmt.Errorf("status request: %w", err)
	}
	var st LiveStatus
	if err := json.Unmarshal(msg.Data, &st); err != nil {
		return LiveStatus{}, fmt.Errorf("unmarshal status: %w", err)
	}
	return st, nil
}

// SubscribeDeltas wires a viewer-side handler. Malformed payloads are
// skipped. Returns an unsubscribe func.
func (r *Relay) SubscribeDeltas(fn func(transcript.Delta)) (func(), error) {
	sub, err := r.nc.Subscribe(SubjectLiveDelta, func(msg *nats.Msg) {
		var d transcript.Delta
		if err := json.Unmarshal(msg.Data, &d); err != nil {
			slog.Warn("malformed delta, skipping", "error", err)
			return
		}
		fn(d)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", SubjectLiveDelta, err)
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

// SubscribeMeetingEnded wires a viewer-side end-of-stream handler.
func (r *Relay) SubscribeMeetingEnded(fn func()) (func(), error) {
	sub, err := r.nc.Subscribe(SubjectMeetingEnded, func(_ *nats.Msg) { fn() })
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", SubjectMeetingEnded, err)
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

// Close drains the connection.
func (r *Relay) Close() {
	if err := r.nc.Drain(); err != nil {
		slog.Warn("NATS drain failed", "error", err)
	}
}

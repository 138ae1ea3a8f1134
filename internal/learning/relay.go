package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentjj/internal/config"
	"github.com/fyrsmithlabs/agentjj/internal/logging"
	"github.com/fyrsmithlabs/agentjj/internal/oplog"
)

// DefaultSubjectPrefix namespaces relay subjects when none is
// configured.
const DefaultSubjectPrefix = "agentjj"

// Relay publishes operation events to NATS for external observers.
// Publishing is fire-and-forget over core NATS: a slow or absent
// subscriber costs nothing, and a publish failure is logged and
// forgotten. Subjects are <prefix>.ops.<agent>.<event> with events
// "recorded" and "conflict".
type Relay struct {
	conn   *nats.Conn
	prefix string
	logger *logging.Logger
}

// RelayOption adjusts a Relay.
type RelayOption func(*Relay)

// WithRelayLogger sets the relay logger.
func WithRelayLogger(logger *logging.Logger) RelayOption {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRelay connects to the configured NATS server. The connection
// retries in the background, so a relay outlives broker restarts.
func NewRelay(cfg config.NATSConfig, opts ...RelayOption) (*Relay, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: relay URL required", ErrInvalidConfig)
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name("agentjj-relay"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}

	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}

	r := &Relay{
		conn:   conn,
		prefix: prefix,
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// PublishOperation emits a "recorded" event for op, plus a "conflict"
// event when the operation introduced conflicts.
func (r *Relay) PublishOperation(ctx context.Context, op oplog.Operation) {
	payload, err := json.Marshal(op)
	if err != nil {
		r.logger.Warn(ctx, "relay marshal failed",
			zap.String("operation_id", op.ID), zap.Error(err))
		return
	}

	r.publish(ctx, r.subject(op.AgentID, "recorded"), payload)
	if op.HasConflict {
		r.publish(ctx, r.subject(op.AgentID, "conflict"), payload)
	}
}

func (r *Relay) publish(ctx context.Context, subject string, payload []byte) {
	if err := r.conn.Publish(subject, payload); err != nil {
		r.logger.Warn(ctx, "relay publish failed",
			zap.String("subject", subject), zap.Error(err))
	}
}

func (r *Relay) subject(agentID, event string) string {
	return fmt.Sprintf("%s.ops.%s.%s", r.prefix, agentID, event)
}

// Close flushes buffered publishes and closes the connection.
func (r *Relay) Close() error {
	if r.conn == nil || r.conn.IsClosed() {
		return nil
	}
	err := r.conn.Drain()
	return err
}

package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/agentcore/agentcore/escalation"
	"github.com/agentcore/agentcore/logging"
	"github.com/agentcore/agentcore/watchdog"
)

// RedisSink mirrors escalation events, heartbeats, and watchdog level
// changes to Redis streams for fleet-wide observability (SPEC_FULL.md
// §3). It is purely additive: the core runtime never depends on it
// being reachable, and every write failure is logged and swallowed
// rather than propagated.
type RedisSink struct {
	client *redis.Client
	logger logging.Logger
}

// NewRedisSink parses url (a redis:// or rediss:// URL, e.g.
// AGENTCORE_REDIS_URL) and constructs a RedisSink. The connection is
// lazy: NewRedisSink never blocks on or fails for an unreachable server.
func NewRedisSink(url string, logger logging.Logger) (*RedisSink, error) {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("telemetry: parse redis url: %w", err)
	}
	return &RedisSink{client: redis.NewClient(opt), logger: logger}, nil
}

const (
	streamEscalations   = "agentcore:escalations"
	streamHeartbeats    = "agentcore:heartbeats"
	streamLevelChanges  = "agentcore:watchdog:level_changes"
	writeTimeout        = 2 * time.Second
)

// OnEscalation mirrors an escalation.Event. Install as an
// escalation.Manager.OnEscalation listener.
func (s *RedisSink) OnEscalation(e escalation.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamEscalations,
		Values: map[string]interface{}{
			"scope":     string(e.Scope),
			"action":    string(e.Action),
			"target":    e.Target,
			"reason":    e.Reason,
			"severity":  string(e.Severity),
			"timestamp": e.Timestamp,
		},
	}).Err(); err != nil {
		s.logger.Warn("redis escalation mirror failed", map[string]interface{}{"error": err.Error()})
	}
}

// OnHeartbeat mirrors an IPC heartbeat frame's timestamp.
func (s *RedisSink) OnHeartbeat(timestampMs int64) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamHeartbeats,
		Values: map[string]interface{}{"timestamp": timestampMs},
	}).Err(); err != nil {
		s.logger.Warn("redis heartbeat mirror failed", map[string]interface{}{"error": err.Error()})
	}
}

// OnLevelChange mirrors one watchdog metric's classification change. Its
// signature matches watchdog.OnLevelChange, so it can be installed
// directly as watchdog.Config.OnLevelChange.
func (s *RedisSink) OnLevelChange(metricName string, from, to watchdog.Level) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamLevelChanges,
		Values: map[string]interface{}{
			"metric": metricName,
			"from":   string(from),
			"to":     string(to),
		},
	}).Err(); err != nil {
		s.logger.Warn("redis watchdog mirror failed", map[string]interface{}{"error": err.Error()})
	}
}

// Close releases the underlying Redis connection pool.
func (s *RedisSink) Close() error {
	return s.client.Close()
}

package stream

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"gymstream/domain"
)

// DefaultHeartbeatInterval is used when no interval is configured.
const DefaultHeartbeatInterval = 15 * time.Second

// Broadcaster turns one domain event into zero or more successful writes,
// pruning connections whose write fails as it goes. It is constructed by
// the process entry point and injected where events are produced; it holds
// no global state and knows nothing about process signals.
type Broadcaster struct {
	registry *Registry
	logger   *log.Logger
	interval time.Duration

	lastID int64
}

func NewBroadcaster(registry *Registry, logger *log.Logger, heartbeatInterval time.Duration) *Broadcaster {
	if heartbeatInterval <= 0 {
		heartbeatInterval = DefaultHeartbeatInterval
	}
	return &Broadcaster{
		registry: registry,
		logger:   logger,
		interval: heartbeatInterval,
	}
}

// Broadcast delivers the event to every matching connection. Dispatch is
// always scoped to the event's own tenant; a nil filter falls back to the
// event's location scope. Write failures remove the connection and the
// iteration continues — nothing is ever reported back to the domain action
// that produced the event.
func (b *Broadcaster) Broadcast(ctx context.Context, ev domain.Event, filter *domain.EventFilter) {
	f := domain.EventFilter{OrgID: ev.OrgID, LocationID: ev.LocationID}
	if filter != nil {
		f.LocationID = filter.LocationID
		f.Types = filter.Types
	}
	if !f.MatchesType(ev.Type) {
		return
	}

	metrics, _ := newBroadcastMetrics(ctx, b.logger, ev.Type, ev.OrgID)

	ev.ID = b.nextEventID()
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	data, err := sonic.Marshal(ev)
	if err != nil {
		metrics.SetErrorStage("serialize")
		metrics.Log(err)
		return
	}
	frame := Frame{ID: ev.ID, Event: ev.Type, Data: data}

	targets := b.registry.Filter(f)
	metrics.SetTargets(len(targets))
	for _, c := range targets {
		if sendErr := c.Send(frame); sendErr != nil {
			b.registry.Remove(c.ID)
			metrics.AddPruned()
			b.logger.WithFields(log.Fields{
				"connection_id": c.ID,
				"org_id":        c.OrgID,
				"error":         sendErr.Error(),
			}).Debug("pruned connection on failed write")
			continue
		}
		metrics.AddDelivered()
	}
	metrics.Log(nil)
}

// Announce sends the connection.established frame that confirms a live
// stream before any domain event arrives.
func (b *Broadcaster) Announce(c *Connection) error {
	data, _ := sonic.Marshal(map[string]string{"connectionId": c.ID})
	return c.Send(Frame{ID: b.nextEventID(), Event: domain.ConnectionEstablished, Data: data})
}

// Run drives the heartbeat loop until ctx is cancelled. The heartbeat is
// the only mechanism that reclaims connections whose client vanished
// without a clean close.
func (b *Broadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.sendHeartbeat()
		}
	}
}

func (b *Broadcaster) sendHeartbeat() {
	frame := Frame{ID: b.nextEventID(), Event: domain.Heartbeat, Data: []byte("{}")}
	conns := b.registry.All()
	pruned := 0
	for _, c := range conns {
		if err := c.Send(frame); err != nil {
			b.registry.Remove(c.ID)
			pruned++
			continue
		}
		c.touchHeartbeat()
	}
	if pruned > 0 {
		b.logger.WithFields(log.Fields{
			"connections": len(conns),
			"pruned":      pruned,
		}).Info("heartbeat pruned dead connections")
	}
}

// Shutdown closes every live connection. It is invoked by the process
// lifecycle hook, not by signal handling inside this package.
func (b *Broadcaster) Shutdown() {
	conns := b.registry.All()
	for _, c := range conns {
		b.registry.Remove(c.ID)
	}
	if len(conns) > 0 {
		b.logger.Infof("closed %d connections on shutdown", len(conns))
	}
}

// nextEventID returns a monotonically increasing opaque id. Wall clock
// regressions still yield a strictly larger value.
func (b *Broadcaster) nextEventID() string {
	for {
		now := time.Now().UnixNano()
		last := atomic.LoadInt64(&b.lastID)
		if now <= last {
			now = last + 1
		}
		if atomic.CompareAndSwapInt64(&b.lastID, last, now) {
			return strconv.FormatInt(now, 36)
		}
	}
}

// Package notify fans change events out to observers. Delivery is best
// effort: events are queued without blocking the caller and dropped when the
// queue is full.
package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/kasuganosora/raidloot/server/cache"
	"github.com/kasuganosora/raidloot/server/metrics"
	"github.com/kasuganosora/raidloot/server/model"
	"go.uber.org/zap"
)

type Kind string

const (
	AcquisitionChanged Kind = "AcquisitionChanged"
	AssignmentCreated  Kind = "AssignmentCreated"
	AssignmentRemoved  Kind = "AssignmentRemoved"
)

// Event describes one committed mutation.
type Event struct {
	Kind              Kind           `json:"kind"`
	MemberID          string         `json:"member_id,omitempty"`
	Slot              *model.Slot    `json:"slot,omitempty"`
	SpecType          model.SpecType `json:"spec_type,omitempty"`
	Floor             int            `json:"floor,omitempty"`
	Week              int            `json:"week,omitempty"`
	AssignmentID      string         `json:"assignment_id,omitempty"`
	IsUpgradeMaterial bool           `json:"is_upgrade_material,omitempty"`
	IsArmorMaterial   bool           `json:"is_armor_material,omitempty"`
	Link              *string        `json:"link,omitempty"`
	At                time.Time      `json:"at"`
}

// AssignmentEvent builds an assignment event from a record.
func AssignmentEvent(kind Kind, a *model.LootAssignment) Event {
	return Event{
		Kind:              kind,
		MemberID:          a.MemberID,
		Slot:              a.Slot,
		SpecType:          a.SpecType,
		Floor:             a.Floor,
		Week:              a.WeekNumber,
		AssignmentID:      a.ID,
		IsUpgradeMaterial: a.IsUpgradeMaterial,
		IsArmorMaterial:   a.IsArmorMaterial,
	}
}

// Sink receives every event after it is published to the pubsub channel.
type Sink interface {
	Deliver(ctx context.Context, e Event, payload []byte) error
	Close() error
}

type Config struct {
	Channel        string
	QueueSize      int
	PublishTimeout time.Duration
}

// Notifier publishes events from a single background worker.
type Notifier struct {
	ps      cache.PubSub
	cfg     Config
	sinks   []Sink
	metrics *metrics.Metrics
	logger  *zap.Logger

	ch       chan Event
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New starts the delivery worker.
func New(ps cache.PubSub, cfg Config, m *metrics.Metrics, logger *zap.Logger, sinks ...Sink) *Notifier {
	if cfg.Channel == "" {
		cfg.Channel = "loot_events"
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}
	n := &Notifier{
		ps:      ps,
		cfg:     cfg,
		sinks:   sinks,
		metrics: m,
		logger:  logger,
		ch:      make(chan Event, cfg.QueueSize),
		stopCh:  make(chan struct{}),
	}
	n.wg.Add(1)
	go n.worker()
	return n
}

// Emit queues e. It never blocks; a full queue or a closed notifier drops the
// event.
func (n *Notifier) Emit(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	select {
	case <-n.stopCh:
		n.metrics.NotificationDropped()
		return
	default:
	}
	select {
	case n.ch <- e:
	default:
		n.metrics.NotificationDropped()
		n.logger.Warn("notify queue full, dropping event",
			zap.String("kind", string(e.Kind)),
			zap.String("member_id", e.MemberID))
	}
}

// Close delivers what is already queued, stops the worker and closes the
// sinks.
func (n *Notifier) Close() {
	n.stopOnce.Do(func() { close(n.stopCh) })
	n.wg.Wait()
	for _, s := range n.sinks {
		if err := s.Close(); err != nil {
			n.logger.Warn("notify sink close failed", zap.Error(err))
		}
	}
	n.sinks = nil
}

// Subscribe decodes events from the pubsub channel until cancel is called.
func (n *Notifier) Subscribe(ctx context.Context) (<-chan Event, func(), error) {
	msgs, cancel, err := n.ps.Subscribe(ctx, n.cfg.Channel)
	if err != nil {
		return nil, nil, err
	}
	out := make(chan Event, 64)
	go func() {
		defer close(out)
		for msg := range msgs {
			var e Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				n.logger.Warn("notify: bad payload", zap.Error(err))
				continue
			}
			select {
			case out <- e:
			default:
			}
		}
	}()
	return out, cancel, nil
}

func (n *Notifier) worker() {
	defer n.wg.Done()
	for {
		select {
		case e := <-n.ch:
			n.deliver(e)
		case <-n.stopCh:
			for {
				select {
				case e := <-n.ch:
					n.deliver(e)
				default:
					return
				}
			}
		}
	}
}

func (n *Notifier) deliver(e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		n.logger.Error("notify: marshal event", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.cfg.PublishTimeout)
	defer cancel()

	if err := n.ps.Publish(ctx, n.cfg.Channel, string(payload)); err != nil {
		n.metrics.NotificationFailed()
		n.logger.Warn("notify publish failed", zap.String("kind", string(e.Kind)), zap.Error(err))
	} else {
		n.metrics.NotificationPublished()
	}
	for _, s := range n.sinks {
		if err := s.Deliver(ctx, e, payload); err != nil {
			n.metrics.NotificationFailed()
			n.logger.Warn("notify sink delivery failed", zap.String("kind", string(e.Kind)), zap.Error(err))
		}
	}
}

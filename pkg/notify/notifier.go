// Package notify delivers admin alerts without blocking the caller.
package notify

import (
	"context"
	"sync"
	"time"

	"nodebroker/pkg/log"
	"nodebroker/pkg/models"

	"github.com/rs/zerolog"
)

const (
	defaultQueueSize = 64
	writeTimeout     = 5 * time.Second
)

// Sink persists notifications.
type Sink interface {
	AddNotification(ctx context.Context, notification *models.Notification) error
}

// Notifier queues alerts and writes them from a single background worker.
// When the queue is full the alert is dropped and logged.
type Notifier struct {
	sink   Sink
	queue  chan models.Notification
	done   chan struct{}
	logger zerolog.Logger

	mu     sync.RWMutex
	closed bool
}

// New starts a notifier. A non-positive queueSize selects the default.
func New(sink Sink, queueSize int) *Notifier {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	notifier := &Notifier{
		sink:   sink,
		queue:  make(chan models.Notification, queueSize),
		done:   make(chan struct{}),
		logger: log.Component("notify"),
	}
	go notifier.run()
	return notifier
}

// Notify enqueues an alert and returns immediately.
func (n *Notifier) Notify(message, nodeID string, level models.CriticalLevel) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.closed {
		n.logger.Warn().Str("node_id", nodeID).Msg("Notifier closed, dropping alert")
		return
	}

	notification := models.Notification{
		Message:       message,
		NodeID:        nodeID,
		CriticalLevel: level,
		CreatedAt:     time.Now().UTC(),
	}

	select {
	case n.queue <- notification:
	default:
		n.logger.Warn().Str("node_id", nodeID).Str("message", message).Msg("Notification queue full, dropping alert")
	}
}

// Close stops accepting alerts and waits for queued ones to be written.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	close(n.queue)
	n.mu.Unlock()

	<-n.done
}

func (n *Notifier) run() {
	defer close(n.done)

	for notification := range n.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := n.sink.AddNotification(ctx, &notification)
		cancel()

		if err != nil {
			n.logger.Error().Err(err).Str("node_id", notification.NodeID).Msg("Failed to store notification")
			continue
		}
		n.logger.Info().
			Str("node_id", notification.NodeID).
			Str("critical_level", notification.CriticalLevel.String()).
			Msg(notification.Message)
	}
}

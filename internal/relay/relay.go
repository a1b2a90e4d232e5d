// Package relay forwards signaling messages to the connection owning a peer
// identity. It never looks inside payloads and never queues messages for a
// peer that is not connected: delivery is best effort, like the signaling of
// the browser clients it serves.
package relay

import (
	"encoding/json"
	"sync"

	"github.com/mossy-p/peercam/internal/metrics"
	"github.com/mossy-p/peercam/internal/models"
	"go.uber.org/zap"
)

const DefaultSendBuffer = 256

// Peer is the outbound side of one attached identity. The connection's
// write loop drains Outbound until it is closed.
type Peer struct {
	ID   string
	send chan []byte

	closeOnce sync.Once
}

// Outbound returns the queue of marshalled messages for this peer.
func (p *Peer) Outbound() <-chan []byte {
	return p.send
}

func (p *Peer) close() {
	p.closeOnce.Do(func() { close(p.send) })
}

type Relay struct {
	mu      sync.RWMutex
	peers   map[string]*Peer
	buffer  int
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func New(buffer int, logger *zap.Logger, m *metrics.Metrics) *Relay {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		peers:   make(map[string]*Peer),
		buffer:  buffer,
		logger:  logger,
		metrics: m,
	}
}

// Attach opens the outbound queue for id, replacing (and closing) any
// previous queue for the same id.
func (r *Relay) Attach(id string) *Peer {
	p := &Peer{ID: id, send: make(chan []byte, r.buffer)}

	r.mu.Lock()
	old := r.peers[id]
	r.peers[id] = p
	r.mu.Unlock()

	if old != nil {
		old.close()
	}
	return p
}

// Detach closes the outbound queue of p. Messages still queued are dropped
// by the write loop together with the connection.
func (r *Relay) Detach(p *Peer) {
	r.mu.Lock()
	if cur, ok := r.peers[p.ID]; ok && cur == p {
		delete(r.peers, p.ID)
	}
	r.mu.Unlock()
	p.close()
}

func (r *Relay) Connected(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.peers[id]
	return ok
}

// Send delivers msg to recipient. It never blocks and never fails the
// caller: an unknown recipient or a full queue is logged, counted, and
// reported as false.
func (r *Relay) Send(recipient string, msg models.SignalMessage) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("marshal signal message", zap.String("type", string(msg.Type)), zap.Error(err))
		return false
	}

	// The read lock is held across the channel send so Detach cannot close
	// the queue underneath us.
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.peers[recipient]
	if !ok {
		r.logger.Warn("recipient not connected, dropping message",
			zap.String("to", recipient),
			zap.String("from", msg.From),
			zap.String("type", string(msg.Type)))
		r.dropped(metrics.DropUnknownRecipient)
		return false
	}

	select {
	case p.send <- data:
		if r.metrics != nil {
			r.metrics.MessagesRelayed.WithLabelValues(string(msg.Type)).Inc()
		}
		return true
	default:
		r.logger.Warn("recipient buffer full, dropping message",
			zap.String("to", recipient),
			zap.String("type", string(msg.Type)))
		r.dropped(metrics.DropBufferFull)
		return false
	}
}

func (r *Relay) dropped(reason string) {
	if r.metrics != nil {
		r.metrics.MessagesDropped.WithLabelValues(reason).Inc()
	}
}

// Package registry assigns ephemeral peer identities. An identity lives as
// long as the owning signaling connection; it is the only state shared
// between peers, so every operation is serialized.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid"
	apperrors "github.com/mossy-p/peercam/internal/errors"
	"github.com/mossy-p/peercam/internal/metrics"
	"go.uber.org/zap"
)

const (
	// Lowercase alphanumerics without the look-alikes 0/o and 1/l, so ids
	// survive being read aloud, typed, or pasted into a URL.
	idAlphabet    = "23456789abcdefghijkmnpqrstuvwxyz"
	defaultIDLen  = 12
	maxIDAttempts = 8
)

// ErrClaimLost is returned by Touch when another instance holds the id.
var ErrClaimLost = errors.New("registry: peer id claimed by another instance")

// Presence claims identities outside this process so that several signaling
// instances never hand out the same one. Claims expire unless refreshed.
type Presence interface {
	Claim(ctx context.Context, id string) (bool, error)
	Refresh(ctx context.Context, id string) (bool, error)
	Release(ctx context.Context, id string) error
}

// IDGenerator returns a candidate identity.
type IDGenerator func() (string, error)

// NanoIDGenerator generates URL safe ids of the given length.
func NanoIDGenerator(length int) IDGenerator {
	if length <= 0 {
		length = defaultIDLen
	}
	return func() (string, error) {
		return gonanoid.Generate(idAlphabet, length)
	}
}

type Options struct {
	// MaxPeers caps concurrently registered identities. Zero means unlimited.
	MaxPeers  int
	Generator IDGenerator
	Presence  Presence
	// PresenceRefresh is the minimum interval between two refreshes of a
	// peer's presence claim.
	PresenceRefresh time.Duration
	Logger          *zap.Logger
	Metrics         *metrics.Metrics
}

type entry struct {
	registeredAt time.Time
	refreshedAt  time.Time
}

type Registry struct {
	mu       sync.Mutex
	peers    map[string]entry
	hooks    []func(id string)
	maxPeers int
	generate IDGenerator
	presence Presence
	refresh  time.Duration
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

func New(opts Options) *Registry {
	if opts.Generator == nil {
		opts.Generator = NanoIDGenerator(defaultIDLen)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Registry{
		peers:    make(map[string]entry),
		maxPeers: opts.MaxPeers,
		generate: opts.Generator,
		presence: opts.Presence,
		refresh:  opts.PresenceRefresh,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}
}

// OnDeregister registers a hook run after an identity is invalidated. Hooks
// run outside the registry lock, in registration order.
func (r *Registry) OnDeregister(fn func(id string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, fn)
}

// Register allocates a fresh identity.
func (r *Registry) Register(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxPeers > 0 && len(r.peers) >= r.maxPeers {
		r.failed(apperrors.ErrCodeCapacityExceeded)
		return "", apperrors.ErrCapacityExceeded.WithMessage("registry holds %d peers", len(r.peers))
	}

	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id, err := r.generate()
		if err != nil {
			r.failed(apperrors.ErrCodeInternal)
			return "", fmt.Errorf("generate peer id: %w", err)
		}
		if id == "" {
			continue
		}
		if _, taken := r.peers[id]; taken {
			r.logger.Debug("peer id collision", zap.String("peer_id", id))
			continue
		}
		if r.presence != nil {
			ok, err := r.presence.Claim(ctx, id)
			if err != nil {
				r.failed(apperrors.ErrCodeInternal)
				return "", fmt.Errorf("claim peer id: %w", err)
			}
			if !ok {
				r.logger.Debug("peer id claimed elsewhere", zap.String("peer_id", id))
				continue
			}
		}

		now := time.Now()
		r.peers[id] = entry{registeredAt: now, refreshedAt: now}
		if r.metrics != nil {
			r.metrics.PeersRegistered.Set(float64(len(r.peers)))
		}
		r.logger.Info("peer registered", zap.String("peer_id", id), zap.Int("peers", len(r.peers)))
		return id, nil
	}

	r.failed(apperrors.ErrCodeCapacityExceeded)
	return "", apperrors.ErrCapacityExceeded.WithMessage("no free peer id after %d attempts", maxIDAttempts)
}

// Deregister invalidates id. It reports whether the id was registered;
// hooks only run the first time.
func (r *Registry) Deregister(ctx context.Context, id string) bool {
	r.mu.Lock()
	_, ok := r.peers[id]
	if ok {
		delete(r.peers, id)
		if r.metrics != nil {
			r.metrics.PeersRegistered.Set(float64(len(r.peers)))
		}
	}
	hooks := append([]func(string){}, r.hooks...)
	r.mu.Unlock()

	if !ok {
		return false
	}

	if r.presence != nil {
		if err := r.presence.Release(ctx, id); err != nil {
			r.logger.Warn("release peer id", zap.String("peer_id", id), zap.Error(err))
		}
	}
	r.logger.Info("peer deregistered", zap.String("peer_id", id))

	for _, hook := range hooks {
		hook(id)
	}
	return true
}

// Touch keeps the presence claim of a connected peer alive. It is called
// periodically for every connection and refreshes at most once per
// PresenceRefresh.
func (r *Registry) Touch(ctx context.Context, id string) error {
	if r.presence == nil {
		return nil
	}

	r.mu.Lock()
	e, ok := r.peers[id]
	if !ok || time.Since(e.refreshedAt) < r.refresh {
		r.mu.Unlock()
		return nil
	}
	e.refreshedAt = time.Now()
	r.peers[id] = e
	r.mu.Unlock()

	held, err := r.presence.Refresh(ctx, id)
	if err != nil {
		r.logger.Warn("refresh peer id", zap.String("peer_id", id), zap.Error(err))
		return fmt.Errorf("refresh peer id: %w", err)
	}
	if !held {
		r.logger.Warn("peer id claimed by another instance", zap.String("peer_id", id))
		return ErrClaimLost
	}
	return nil
}

func (r *Registry) IsRegistered(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.peers[id]
	return ok
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

func (r *Registry) failed(code apperrors.ErrorCode) {
	if r.metrics != nil {
		r.metrics.RegistrationsFailed.WithLabelValues(string(code)).Inc()
	}
}

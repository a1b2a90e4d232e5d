package registry

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	apperrors "github.com/mossy-p/peercam/internal/errors"
	"github.com/mossy-p/peercam/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePresence struct {
	mu        sync.Mutex
	claimed   map[string]bool
	reject    map[string]bool
	released  []string
	refreshed []string
}

func newFakePresence() *fakePresence {
	return &fakePresence{claimed: map[string]bool{}, reject: map[string]bool{}}
}

func (p *fakePresence) Claim(_ context.Context, id string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reject[id] || p.claimed[id] {
		return false, nil
	}
	p.claimed[id] = true
	return true, nil
}

func (p *fakePresence) Refresh(_ context.Context, id string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshed = append(p.refreshed, id)
	return !p.reject[id], nil
}

func (p *fakePresence) Release(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.claimed, id)
	p.released = append(p.released, id)
	return nil
}

func sequence(ids ...string) IDGenerator {
	var mu sync.Mutex
	i := 0
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		id := ids[i%len(ids)]
		i++
		return id, nil
	}
}

func TestRegister_URLSafeUniqueIDs(t *testing.T) {
	r := New(Options{})
	pattern := regexp.MustCompile(`^[23456789a-km-np-z]{12}$`)

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		id, err := r.Register(context.Background())
		require.NoError(t, err)
		assert.Regexp(t, pattern, id)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Equal(t, 200, r.Count())
}

func TestRegister_RetriesOnCollision(t *testing.T) {
	r := New(Options{Generator: sequence("cam-123", "cam-123", "view-9")})

	first, err := r.Register(context.Background())
	require.NoError(t, err)
	second, err := r.Register(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "cam-123", first)
	assert.Equal(t, "view-9", second)
}

func TestRegister_CollisionExhaustion(t *testing.T) {
	r := New(Options{Generator: sequence("same")})
	_, err := r.Register(context.Background())
	require.NoError(t, err)

	_, err = r.Register(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrCapacityExceeded)
}

func TestRegister_CapacityExceeded(t *testing.T) {
	m := metrics.New()
	r := New(Options{MaxPeers: 2, Metrics: m})

	for i := 0; i < 2; i++ {
		_, err := r.Register(context.Background())
		require.NoError(t, err)
	}
	_, err := r.Register(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrCapacityExceeded)
	assert.Equal(t, 2, r.Count())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RegistrationsFailed.WithLabelValues("CAPACITY_EXCEEDED")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PeersRegistered))
}

func TestRegister_GeneratorError(t *testing.T) {
	boom := errors.New("entropy exhausted")
	r := New(Options{Generator: func() (string, error) { return "", boom }})

	_, err := r.Register(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, r.Count())
}

func TestRegister_PresenceClaimedElsewhere(t *testing.T) {
	p := newFakePresence()
	p.reject["taken"] = true
	r := New(Options{Generator: sequence("taken", "free"), Presence: p})

	id, err := r.Register(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "free", id)
	assert.True(t, p.claimed["free"])
}

func TestTouch_RefreshesPresence(t *testing.T) {
	tests := []struct {
		name     string
		interval time.Duration
		touches  int
		want     int
	}{
		{"every touch", 0, 3, 3},
		{"throttled", time.Hour, 3, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFakePresence()
			r := New(Options{Generator: sequence("cam-1"), Presence: p, PresenceRefresh: tt.interval})
			id, err := r.Register(context.Background())
			require.NoError(t, err)

			for i := 0; i < tt.touches; i++ {
				require.NoError(t, r.Touch(context.Background(), id))
			}
			assert.Len(t, p.refreshed, tt.want)
		})
	}
}

func TestTouch_ClaimLost(t *testing.T) {
	p := newFakePresence()
	r := New(Options{Generator: sequence("cam-1"), Presence: p})
	id, err := r.Register(context.Background())
	require.NoError(t, err)

	p.reject[id] = true
	assert.ErrorIs(t, r.Touch(context.Background(), id), ErrClaimLost)
	assert.NoError(t, r.Touch(context.Background(), "unknown"))
	assert.NoError(t, New(Options{}).Touch(context.Background(), id), "no presence configured")
}

func TestDeregister_RunsHooksOnce(t *testing.T) {
	p := newFakePresence()
	r := New(Options{Generator: sequence("cam-123"), Presence: p})

	var gone []string
	r.OnDeregister(func(id string) { gone = append(gone, id) })

	id, err := r.Register(context.Background())
	require.NoError(t, err)

	assert.True(t, r.Deregister(context.Background(), id))
	assert.False(t, r.Deregister(context.Background(), id))
	assert.False(t, r.IsRegistered(id))
	assert.Equal(t, []string{"cam-123"}, gone)
	assert.Equal(t, []string{"cam-123"}, p.released)
}

func TestDeregister_HookMayCallRegistry(t *testing.T) {
	r := New(Options{})
	id, err := r.Register(context.Background())
	require.NoError(t, err)

	r.OnDeregister(func(string) { _ = r.Count() })
	assert.True(t, r.Deregister(context.Background(), id))
}

func TestRegistry_ConcurrentRegisterDeregister(t *testing.T) {
	r := New(Options{})
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := r.Register(context.Background())
			if err != nil {
				t.Error(err)
				return
			}
			r.Deregister(context.Background(), id)
		}()
	}
	wg.Wait()
	assert.Zero(t, r.Count())
}

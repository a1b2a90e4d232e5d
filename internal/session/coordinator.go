// Package session tracks camera/viewer pairings through their lifecycle:
//
//	pending -> negotiating -> active -> closed
//
// Transitions only move forward. Closed is terminal and reachable from every
// other state; active is only reachable from negotiating, once the answer
// has been relayed and both sides have reported a usable transport.
package session

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/mossy-p/peercam/internal/errors"
	"github.com/mossy-p/peercam/internal/metrics"
	"github.com/mossy-p/peercam/internal/models"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// Policy decides what happens when a viewer calls a camera that already has
// an open session with another viewer.
type Policy string

const (
	// PolicyReject refuses the new call with CAMERA_BUSY.
	PolicyReject Policy = "reject"
	// PolicyPreempt closes the existing session and admits the new one.
	PolicyPreempt Policy = "preempt"
)

const defaultTombstoneTTL = 5 * time.Minute

// Directory is the view of the identity registry the coordinator needs.
type Directory interface {
	IsRegistered(id string) bool
	OnDeregister(fn func(id string))
}

// Notifier receives a snapshot after every state change. It is called with
// the coordinator lock held and must neither block nor call back into the
// coordinator.
type Notifier func(info models.SessionInfo)

type Options struct {
	Policy         Policy
	PendingTimeout time.Duration
	TombstoneTTL   time.Duration
	Notifier       Notifier
	Logger         *zap.Logger
	Metrics        *metrics.Metrics
	Now            func() time.Time
}

type Coordinator struct {
	mu       sync.Mutex
	dir      Directory
	sessions map[string]*models.SessionInfo
	byPeer   map[string]map[string]struct{}

	// Recently closed sessions, so late messages can be told apart from
	// messages for sessions that never existed.
	tombstones *cache.Cache

	policy         Policy
	pendingTimeout time.Duration
	notify         Notifier
	logger         *zap.Logger
	metrics        *metrics.Metrics
	now            func() time.Time
}

func NewCoordinator(dir Directory, opts Options) *Coordinator {
	if opts.Policy == "" {
		opts.Policy = PolicyReject
	}
	if opts.TombstoneTTL <= 0 {
		opts.TombstoneTTL = defaultTombstoneTTL
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &Coordinator{
		dir:            dir,
		sessions:       make(map[string]*models.SessionInfo),
		byPeer:         make(map[string]map[string]struct{}),
		tombstones:     cache.New(opts.TombstoneTTL, 2*opts.TombstoneTTL),
		policy:         opts.Policy,
		pendingTimeout: opts.PendingTimeout,
		notify:         opts.Notifier,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
		now:            opts.Now,
	}
	dir.OnDeregister(c.peerGone)
	return c
}

// SetNotifier replaces the notifier. Used when the notifier itself depends
// on the coordinator being constructed first.
func (c *Coordinator) SetNotifier(n Notifier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notify = n
}

func (c *Coordinator) Policy() Policy {
	return c.policy
}

// Initiate opens a pending session between cameraID and viewerID. ref is
// the viewer's call reference, echoed in the pending notification.
func (c *Coordinator) Initiate(cameraID, viewerID, ref string) (models.SessionInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cameraID == "" || cameraID == viewerID {
		return models.SessionInfo{}, apperrors.ErrInvalidMessage.WithMessage("invalid camera id %q", cameraID)
	}
	if !c.dir.IsRegistered(cameraID) {
		return models.SessionInfo{}, apperrors.ErrUnknownPeer.WithMessage("camera %q is not registered", cameraID)
	}
	if !c.dir.IsRegistered(viewerID) {
		return models.SessionInfo{}, apperrors.ErrUnknownPeer.WithMessage("viewer %q is not registered", viewerID)
	}

	var busy []*models.SessionInfo
	for _, s := range c.sessionsOfLocked(cameraID) {
		if s.CameraID == cameraID && s.ViewerID != viewerID {
			busy = append(busy, s)
		}
	}
	if len(busy) > 0 {
		if c.policy == PolicyReject {
			c.logger.Info("camera busy, rejecting call",
				zap.String("camera_id", cameraID),
				zap.String("viewer_id", viewerID),
				zap.String("session_id", busy[0].ID))
			return models.SessionInfo{}, apperrors.ErrCameraBusy.WithMessage("camera %q already has a session", cameraID)
		}
		for _, s := range busy {
			c.closeLocked(s, models.ReasonPreempted)
		}
	}

	// A viewer watches one camera at a time; a new call replaces its old one.
	for _, s := range c.sessionsOfLocked(viewerID) {
		if s.ViewerID == viewerID {
			c.closeLocked(s, models.ReasonSuperseded)
		}
	}

	now := c.now()
	s := &models.SessionInfo{
		ID:        uuid.NewString(),
		CameraID:  cameraID,
		ViewerID:  viewerID,
		CallRef:   ref,
		State:     models.SessionPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	c.sessions[s.ID] = s
	c.index(s.CameraID, s.ID)
	c.index(s.ViewerID, s.ID)

	if c.metrics != nil {
		c.metrics.SessionsOpened.Inc()
		c.metrics.SessionsOpen.WithLabelValues(string(s.State)).Inc()
	}
	c.logger.Info("session created",
		zap.String("session_id", s.ID),
		zap.String("camera_id", cameraID),
		zap.String("viewer_id", viewerID))
	c.emit(s)
	return *s, nil
}

// Route validates a relayed message of type typ sent by from within the
// session and returns the recipient. Offers move a pending session to
// negotiating; answers mark the session as answered.
func (c *Coordinator) Route(sessionID, from string, typ models.SignalType) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.lookupLocked(sessionID, from)
	if err != nil {
		return "", err
	}
	to := s.Peer(from)

	switch typ {
	case models.SignalTypeOffer:
		if s.State == models.SessionPending {
			c.advanceLocked(s, models.SessionNegotiating)
		}
	case models.SignalTypeAnswer:
		if s.State == models.SessionPending {
			return "", apperrors.ErrInvalidMessage.WithMessage("answer before offer in session %s", sessionID)
		}
		if !s.Answered {
			s.Answered = true
			s.UpdatedAt = c.now()
			c.maybeActivateLocked(s)
		}
	case models.SignalTypeCandidate, models.SignalTypeError:
	default:
		return "", apperrors.ErrInvalidMessage.WithMessage("message type %q is not relayed", typ)
	}
	return to, nil
}

// MarkReady records that peerID reports a usable transport.
func (c *Coordinator) MarkReady(sessionID, peerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.lookupLocked(sessionID, peerID)
	if err != nil {
		return err
	}
	if peerID == s.CameraID {
		s.CameraReady = true
	} else {
		s.ViewerReady = true
	}
	s.UpdatedAt = c.now()
	c.maybeActivateLocked(s)
	return nil
}

// Hangup closes the session on behalf of one of its parties.
func (c *Coordinator) Hangup(sessionID, peerID, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.lookupLocked(sessionID, peerID)
	if err != nil {
		return err
	}
	c.closeLocked(s, reason)
	return nil
}

// Close closes a session. Closing an already closed or unknown session is a
// no-op; the result reports whether this call closed it.
func (c *Coordinator) Close(sessionID, reason string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[sessionID]
	if !ok {
		return false
	}
	c.closeLocked(s, reason)
	return true
}

// SweepPending closes sessions that stayed pending longer than the
// configured timeout. Without a timeout pending sessions wait forever.
func (c *Coordinator) SweepPending() int {
	if c.pendingTimeout <= 0 {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := c.now().Add(-c.pendingTimeout)
	var expired []*models.SessionInfo
	for _, s := range c.sessions {
		if s.State == models.SessionPending && s.CreatedAt.Before(deadline) {
			expired = append(expired, s)
		}
	}
	for _, s := range expired {
		c.closeLocked(s, models.ReasonPendingTimeout)
	}
	return len(expired)
}

// Get returns an open session, or the final snapshot of a recently closed one.
func (c *Coordinator) Get(sessionID string) (models.SessionInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.sessions[sessionID]; ok {
		return *s, true
	}
	if v, ok := c.tombstones.Get(sessionID); ok {
		return v.(models.SessionInfo), true
	}
	return models.SessionInfo{}, false
}

// List returns the open sessions, oldest first.
func (c *Coordinator) List() []models.SessionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]models.SessionInfo, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, *s)
	}
	sortByCreation(out)
	return out
}

// OpenFor returns the open sessions peerID takes part in.
func (c *Coordinator) OpenFor(peerID string) []models.SessionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := []models.SessionInfo{}
	for _, s := range c.sessionsOfLocked(peerID) {
		out = append(out, *s)
	}
	sortByCreation(out)
	return out
}

func (c *Coordinator) peerGone(peerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, s := range c.sessionsOfLocked(peerID) {
		c.closeLocked(s, models.ReasonPeerDisconnected)
	}
}

func (c *Coordinator) lookupLocked(sessionID, peerID string) (*models.SessionInfo, error) {
	s, ok := c.sessions[sessionID]
	if !ok {
		if _, closed := c.tombstones.Get(sessionID); closed {
			return nil, apperrors.ErrSessionClosed.WithMessage("session %s is closed", sessionID)
		}
		return nil, apperrors.ErrUnknownSession.WithMessage("session %s not found", sessionID)
	}
	if s.Peer(peerID) == "" {
		return nil, apperrors.ErrInvalidMessage.WithMessage("peer %s is not part of session %s", peerID, sessionID)
	}
	return s, nil
}

func (c *Coordinator) sessionsOfLocked(peerID string) []*models.SessionInfo {
	ids := c.byPeer[peerID]
	out := make([]*models.SessionInfo, 0, len(ids))
	for id := range ids {
		if s, ok := c.sessions[id]; ok {
			out = append(out, s)
		}
	}
	return out
}

func (c *Coordinator) maybeActivateLocked(s *models.SessionInfo) {
	if s.State == models.SessionNegotiating && s.Answered && s.CameraReady && s.ViewerReady {
		c.advanceLocked(s, models.SessionActive)
	}
}

func canTransition(from, to models.SessionState) bool {
	switch to {
	case models.SessionNegotiating:
		return from == models.SessionPending
	case models.SessionActive:
		return from == models.SessionNegotiating
	case models.SessionClosed:
		return from.Open()
	}
	return false
}

func (c *Coordinator) advanceLocked(s *models.SessionInfo, to models.SessionState) bool {
	from := s.State
	if !canTransition(from, to) {
		return false
	}
	s.State = to
	s.UpdatedAt = c.now()

	if c.metrics != nil {
		c.metrics.SessionTransitions.WithLabelValues(string(to)).Inc()
		c.metrics.SessionsOpen.WithLabelValues(string(from)).Dec()
		if to.Open() {
			c.metrics.SessionsOpen.WithLabelValues(string(to)).Inc()
		}
	}
	c.logger.Info("session state changed",
		zap.String("session_id", s.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	if to.Open() {
		c.emit(s)
	}
	return true
}

func (c *Coordinator) closeLocked(s *models.SessionInfo, reason string) {
	s.Reason = reason
	if !c.advanceLocked(s, models.SessionClosed) {
		return
	}

	delete(c.sessions, s.ID)
	c.unindex(s.CameraID, s.ID)
	c.unindex(s.ViewerID, s.ID)
	c.tombstones.SetDefault(s.ID, *s)

	if c.metrics != nil {
		c.metrics.SessionsClosed.WithLabelValues(reason).Inc()
	}
	c.emit(s)
}

func (c *Coordinator) emit(s *models.SessionInfo) {
	if c.notify != nil {
		c.notify(*s)
	}
}

func (c *Coordinator) index(peerID, sessionID string) {
	set, ok := c.byPeer[peerID]
	if !ok {
		set = make(map[string]struct{})
		c.byPeer[peerID] = set
	}
	set[sessionID] = struct{}{}
}

func (c *Coordinator) unindex(peerID, sessionID string) {
	if set, ok := c.byPeer[peerID]; ok {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(c.byPeer, peerID)
		}
	}
}

func sortByCreation(s []models.SessionInfo) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].CreatedAt.Equal(s[j].CreatedAt) {
			return s[i].ID < s[j].ID
		}
		return s[i].CreatedAt.Before(s[j].CreatedAt)
	})
}

// Package transport is the client side of peercam: it turns signaling
// messages into WebRTC negotiation and exposes a small call API to a UI.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/mossy-p/peercam/internal/errors"
	"github.com/mossy-p/peercam/internal/models"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

const defaultCallTimeout = 15 * time.Second

// ErrAdapterClosed is returned by every operation after Close.
var ErrAdapterClosed = errors.New("transport: adapter closed")

// Call is one session as seen by this peer. Outgoing calls were placed by
// this peer (viewer side); incoming calls were announced by the server.
type Call struct {
	ID       string
	RemoteID string
	Outgoing bool

	mu     sync.Mutex
	state  models.SessionState
	reason string

	// Owned by the adapter's event loop.
	pc           PeerConnection
	senders      map[webrtc.RTPCodecType]TrackSender
	local        *MediaEndpoint
	accepted     bool
	pendingOffer *webrtc.SessionDescription
	candidates   []webrtc.ICECandidateInit
	remoteSet    bool
	connected    bool
	firstTrack   RemoteTrack
	readySent    bool
	streamSent   bool
	closed       bool
}

func newCall(id, remoteID string, outgoing bool) *Call {
	return &Call{
		ID:       id,
		RemoteID: remoteID,
		Outgoing: outgoing,
		state:    models.SessionPending,
	}
}

// State is the last session state reported for the call.
func (c *Call) State() models.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Reason is why the call closed, empty while it is open.
func (c *Call) Reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// setState moves the call forward; it never goes back.
func (c *Call) setState(s models.SessionState, reason string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.Rank() <= c.state.Rank() {
		return false
	}
	c.state = s
	if s == models.SessionClosed {
		c.reason = reason
	}
	return true
}

// Options configures an Adapter.
type Options struct {
	Signaler Signaler
	Source   CaptureSource
	NewPeer  PeerFactory
	Logger   *zap.Logger
	// CallTimeout bounds the wait for the server's reply to a call.
	CallTimeout time.Duration
}

type callResult struct {
	call *Call
	err  error
}

type callWaiter struct {
	remoteID string
	local    *MediaEndpoint
	result   chan callResult
}

// Adapter drives calls for one peer. All call state is mutated on a single
// event loop goroutine; pion callbacks and API calls post closures into it.
// Handlers run in order on a separate goroutine and may call back into the
// Adapter.
type Adapter struct {
	sig         Signaler
	source      CaptureSource
	newPeer     PeerFactory
	logger      *zap.Logger
	callTimeout time.Duration

	events        *queue
	notify        *queue
	done          chan struct{}
	stopped       chan struct{}
	notifyDone    chan struct{}
	notifyStopped chan struct{}
	closeOnce     sync.Once
	// Set while the dispatcher is running handlers.
	inHandler atomic.Bool

	// Owned by the event loop.
	local   *MediaEndpoint
	calls   map[string]*Call
	waiters map[string]*callWaiter
	nextRef uint64

	hmu            sync.RWMutex
	onRemoteStream func(*Call, RemoteTrack)
	onError        func(*Call, error)
	onClose        func(*Call)
	onStatus       func(*Call, models.SessionState)
	onIncoming     func(*Call)
}

// NewAdapter starts an adapter on an established signaling connection.
func NewAdapter(opts Options) *Adapter {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}

	a := &Adapter{
		sig:           opts.Signaler,
		source:        opts.Source,
		newPeer:       opts.NewPeer,
		logger:        opts.Logger.With(zap.String("peer_id", opts.Signaler.ID())),
		callTimeout:   opts.CallTimeout,
		events:        newQueue(),
		notify:        newQueue(),
		done:          make(chan struct{}),
		stopped:       make(chan struct{}),
		notifyDone:    make(chan struct{}),
		notifyStopped: make(chan struct{}),
		calls:         make(map[string]*Call),
		waiters:       make(map[string]*callWaiter),
	}
	go a.run()
	go a.dispatch()
	return a
}

// ID is this peer's identity, the one a camera shows to its viewers.
func (a *Adapter) ID() string { return a.sig.ID() }

func (a *Adapter) OnRemoteStream(fn func(call *Call, track RemoteTrack)) {
	a.hmu.Lock()
	a.onRemoteStream = fn
	a.hmu.Unlock()
}

func (a *Adapter) OnError(fn func(call *Call, err error)) {
	a.hmu.Lock()
	a.onError = fn
	a.hmu.Unlock()
}

func (a *Adapter) OnClose(fn func(call *Call)) {
	a.hmu.Lock()
	a.onClose = fn
	a.hmu.Unlock()
}

func (a *Adapter) OnStatusChange(fn func(call *Call, state models.SessionState)) {
	a.hmu.Lock()
	a.onStatus = fn
	a.hmu.Unlock()
}

// OnIncoming is called when a viewer calls this peer. The call is answered
// with AnswerIncoming or rejected with Teardown.
func (a *Adapter) OnIncoming(fn func(call *Call)) {
	a.hmu.Lock()
	a.onIncoming = fn
	a.hmu.Unlock()
}

// StartLocalMedia opens a capture device, releasing the current one first.
// Live calls switch to the new tracks in place, without renegotiation.
// Device and permission errors are returned as is and never retried.
func (a *Adapter) StartLocalMedia(ctx context.Context, deviceID string) (*MediaEndpoint, error) {
	var (
		ep  *MediaEndpoint
		err error
	)
	derr := a.do(func() {
		prev := a.local
		if prev != nil {
			prev.Stop()
			a.local = nil
		}

		ep, err = a.source.Acquire(ctx, deviceID)
		if err != nil {
			a.logger.Warn("failed to start local media", zap.String("device_id", deviceID), zap.Error(err))
			return
		}
		a.local = ep

		for _, call := range a.calls {
			if call.pc != nil && len(call.senders) > 0 && (call.local == nil || call.local == prev) {
				a.replaceTracks(call, ep)
			}
		}
		a.logger.Info("local media started", zap.String("device_id", ep.DeviceID()))
	})
	if derr != nil {
		return nil, derr
	}
	return ep, err
}

// Local returns the current local media, or nil.
func (a *Adapter) Local() *MediaEndpoint {
	var ep *MediaEndpoint
	_ = a.do(func() { ep = a.local })
	return ep
}

// Calls returns the open calls.
func (a *Adapter) Calls() []*Call {
	var out []*Call
	_ = a.do(func() {
		for _, c := range a.calls {
			out = append(out, c)
		}
	})
	return out
}

// PlaceCall asks the server for a session with remoteID and starts the
// offer. With a nil local endpoint the call only receives. UnknownPeer and
// CameraBusy come back as errors before any negotiation starts.
func (a *Adapter) PlaceCall(ctx context.Context, remoteID string, local *MediaEndpoint) (*Call, error) {
	w := &callWaiter{remoteID: remoteID, local: local, result: make(chan callResult, 1)}

	var (
		ref     string
		sendErr error
	)
	if err := a.do(func() {
		a.nextRef++
		ref = strconv.FormatUint(a.nextRef, 10)
		sendErr = a.sig.Send(models.SignalMessage{Type: models.SignalTypeCall, To: remoteID, Ref: ref})
		if sendErr == nil {
			a.waiters[ref] = w
		}
	}); err != nil {
		return nil, err
	}
	if sendErr != nil {
		return nil, apperrors.ErrPeerDisconnected.WithCause(sendErr)
	}

	timer := time.NewTimer(a.callTimeout)
	defer timer.Stop()

	select {
	case res := <-w.result:
		return res.call, res.err
	case <-ctx.Done():
		a.abandon(ref, w)
		return nil, ctx.Err()
	case <-timer.C:
		a.abandon(ref, w)
		return nil, apperrors.ErrTransport.WithMessage("no reply to call for %q", remoteID)
	case <-a.stopped:
		return nil, ErrAdapterClosed
	}
}

// abandon forgets a call request the caller stopped waiting for, hanging up
// if the reply raced in.
func (a *Adapter) abandon(ref string, w *callWaiter) {
	_ = a.do(func() {
		delete(a.waiters, ref)
		select {
		case res := <-w.result:
			if res.call != nil {
				a.hangup(res.call)
			}
		default:
		}
	})
}

// AnswerIncoming attaches local media to an incoming call. The offer may
// have arrived already or may come later.
func (a *Adapter) AnswerIncoming(call *Call, local *MediaEndpoint) error {
	var err error
	derr := a.do(func() {
		if call.closed {
			err = apperrors.ErrSessionClosed
			return
		}
		if call.Outgoing || call.accepted {
			err = apperrors.ErrInvalidMessage.WithMessage("call %s cannot be answered", call.ID)
			return
		}
		call.accepted = true
		call.local = local

		if perr := a.openPeer(call); perr != nil {
			err = transportErr(perr)
			a.fail(call, err)
			return
		}
		if call.pendingOffer != nil {
			offer := *call.pendingOffer
			call.pendingOffer = nil
			a.applyOffer(call, offer)
		}
	})
	if derr != nil {
		return derr
	}
	return err
}

// Teardown hangs up call and releases local media no other live call uses.
// With a nil call only local media is released. Repeated calls are no-ops.
func (a *Adapter) Teardown(call *Call) error {
	return a.do(func() {
		if call != nil {
			a.hangup(call)
			if a.localInUse() {
				return
			}
		}
		if a.local != nil {
			a.local.Stop()
			a.local = nil
		}
	})
}

// Close hangs up every call, releases local media and closes signaling.
// Called from a handler, it returns without waiting for the remaining
// handlers, which still run once the current one returns.
func (a *Adapter) Close() error {
	var err error
	a.closeOnce.Do(func() {
		_ = a.do(func() { a.releaseAll(true, nil) })
		close(a.done)
		<-a.stopped
		err = a.sig.Close()
		close(a.notifyDone)
		if !a.inHandler.Load() {
			<-a.notifyStopped
		}
	})
	return err
}

func (a *Adapter) run() {
	defer close(a.stopped)

	msgs := a.sig.Messages()
	for {
		for _, fn := range a.events.drain() {
			fn()
		}

		select {
		case <-a.events.wake:
		case msg, ok := <-msgs:
			if !ok {
				msgs = nil
				a.logger.Warn("signaling connection lost")
				a.releaseAll(false, apperrors.ErrPeerDisconnected.WithMessage("signaling connection lost"))
				continue
			}
			a.handleSignal(msg)
		case <-a.done:
			return
		}
	}
}

// do runs fn on the event loop and waits for it.
func (a *Adapter) do(fn func()) error {
	select {
	case <-a.done:
		return ErrAdapterClosed
	default:
	}

	ran := make(chan struct{})
	a.events.push(func() {
		fn()
		close(ran)
	})

	select {
	case <-ran:
		return nil
	case <-a.stopped:
		return ErrAdapterClosed
	}
}

func (a *Adapter) post(fn func()) {
	a.events.push(fn)
}

func (a *Adapter) handleSignal(msg models.SignalMessage) {
	switch msg.Type {
	case models.SignalTypeRegistered:
	case models.SignalTypeIncoming:
		call := newCall(msg.SessionID, msg.From, false)
		a.calls[call.ID] = call
		a.logger.Info("incoming call", zap.String("session_id", call.ID), zap.String("from", call.RemoteID))
		a.emitIncoming(call)
	case models.SignalTypeStatus:
		a.handleStatus(msg)
	case models.SignalTypeError:
		a.handleError(msg)
	case models.SignalTypeOffer:
		a.handleOffer(msg)
	case models.SignalTypeAnswer:
		a.handleAnswer(msg)
	case models.SignalTypeCandidate:
		a.handleCandidate(msg)
	default:
		a.logger.Debug("ignoring signaling message", zap.String("type", string(msg.Type)))
	}
}

func (a *Adapter) handleStatus(msg models.SignalMessage) {
	if w, ok := a.waiters[msg.Ref]; ok && msg.Ref != "" {
		delete(a.waiters, msg.Ref)
		call, err := a.startOutgoing(msg.SessionID, w)
		w.result <- callResult{call: call, err: err}
		return
	}

	call := a.calls[msg.SessionID]
	if call == nil {
		if msg.Ref != "" && msg.State.Open() {
			// Reply to a call nobody waits for anymore.
			a.logger.Info("hanging up abandoned call", zap.String("session_id", msg.SessionID), zap.String("ref", msg.Ref))
			if err := a.sig.Send(models.SignalMessage{Type: models.SignalTypeHangup, SessionID: msg.SessionID}); err != nil {
				a.logger.Debug("failed to send hangup", zap.Error(err))
			}
		}
		return
	}
	if msg.State == models.SessionClosed {
		a.closeCall(call, msg.Reason, reasonErr(msg.Reason))
		return
	}
	if call.setState(msg.State, "") {
		a.emitStatus(call, msg.State)
	}
}

func (a *Adapter) handleError(msg models.SignalMessage) {
	err := apperrors.FromWire(msg.Code, msg.Error)

	if w, ok := a.waiters[msg.Ref]; ok && msg.Ref != "" {
		delete(a.waiters, msg.Ref)
		w.result <- callResult{err: err}
		return
	}

	call := a.calls[msg.SessionID]
	if call == nil {
		a.emitError(nil, err)
		return
	}

	switch {
	case msg.From == call.RemoteID:
		a.closeCall(call, models.ReasonPeerError, err)
	case errors.Is(err, apperrors.ErrUnknownSession), errors.Is(err, apperrors.ErrSessionClosed):
		a.closeCall(call, models.ReasonPeerDisconnected, err)
	default:
		a.emitError(call, err)
	}
}

func (a *Adapter) handleOffer(msg models.SignalMessage) {
	call := a.calls[msg.SessionID]
	if call == nil || call.Outgoing {
		a.logger.Debug("offer for unknown call", zap.String("session_id", msg.SessionID))
		return
	}

	var offer webrtc.SessionDescription
	if err := json.Unmarshal(msg.Payload, &offer); err != nil {
		a.fail(call, apperrors.ErrInvalidMessage.WithMessage("malformed offer").WithCause(err))
		return
	}
	if !call.accepted {
		call.pendingOffer = &offer
		return
	}
	a.applyOffer(call, offer)
}

func (a *Adapter) handleAnswer(msg models.SignalMessage) {
	call := a.calls[msg.SessionID]
	if call == nil || !call.Outgoing || call.pc == nil {
		return
	}

	var answer webrtc.SessionDescription
	if err := json.Unmarshal(msg.Payload, &answer); err != nil {
		a.fail(call, apperrors.ErrInvalidMessage.WithMessage("malformed answer").WithCause(err))
		return
	}
	if err := call.pc.SetRemoteDescription(answer); err != nil {
		a.fail(call, transportErr(err))
		return
	}
	call.remoteSet = true
	a.flushCandidates(call)
}

func (a *Adapter) handleCandidate(msg models.SignalMessage) {
	call := a.calls[msg.SessionID]
	if call == nil {
		return
	}

	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(msg.Payload, &candidate); err != nil {
		a.logger.Warn("malformed candidate", zap.String("session_id", call.ID), zap.Error(err))
		return
	}
	if call.pc == nil || !call.remoteSet {
		call.candidates = append(call.candidates, candidate)
		return
	}
	if err := call.pc.AddICECandidate(candidate); err != nil {
		a.logger.Warn("failed to add candidate", zap.String("session_id", call.ID), zap.Error(err))
	}
}

func (a *Adapter) startOutgoing(sessionID string, w *callWaiter) (*Call, error) {
	call := newCall(sessionID, w.remoteID, true)
	call.accepted = true
	call.local = w.local
	a.calls[call.ID] = call

	if err := a.openPeer(call); err != nil {
		err = transportErr(err)
		a.fail(call, err)
		return nil, err
	}

	offer, err := call.pc.CreateOffer()
	if err == nil {
		err = call.pc.SetLocalDescription(offer)
	}
	if err == nil {
		err = a.sendDescription(call, models.SignalTypeOffer, offer)
	}
	if err != nil {
		err = transportErr(err)
		a.fail(call, err)
		return nil, err
	}

	a.logger.Info("call placed", zap.String("session_id", call.ID), zap.String("to", call.RemoteID))
	return call, nil
}

func (a *Adapter) applyOffer(call *Call, offer webrtc.SessionDescription) {
	if err := call.pc.SetRemoteDescription(offer); err != nil {
		a.fail(call, transportErr(err))
		return
	}
	call.remoteSet = true
	a.flushCandidates(call)

	answer, err := call.pc.CreateAnswer()
	if err == nil {
		err = call.pc.SetLocalDescription(answer)
	}
	if err == nil {
		err = a.sendDescription(call, models.SignalTypeAnswer, answer)
	}
	if err != nil {
		a.fail(call, transportErr(err))
	}
}

// openPeer creates the call's peer connection and attaches local tracks, or
// receive-only transceivers for an outgoing call without media.
func (a *Adapter) openPeer(call *Call) error {
	pc, err := a.newPeer()
	if err != nil {
		return err
	}
	call.pc = pc

	pc.OnICECandidate(func(c *webrtc.ICECandidateInit) {
		if c == nil {
			return
		}
		candidate := *c
		a.post(func() { a.sendCandidate(call, candidate) })
	})
	pc.OnTrack(func(track RemoteTrack) {
		a.post(func() { a.remoteTrack(call, track) })
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		a.post(func() { a.connectionState(call, state) })
	})

	if call.local != nil && !call.local.Stopped() {
		call.senders = make(map[webrtc.RTPCodecType]TrackSender)
		for _, track := range call.local.Tracks() {
			sender, err := pc.AddTrack(track)
			if err != nil {
				return fmt.Errorf("add %s track: %w", track.Kind(), err)
			}
			call.senders[track.Kind()] = sender
		}
		return nil
	}
	if call.Outgoing {
		for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio} {
			if err := pc.AddReceiver(kind); err != nil {
				return fmt.Errorf("add %s receiver: %w", kind, err)
			}
		}
	}
	return nil
}

func (a *Adapter) replaceTracks(call *Call, ep *MediaEndpoint) {
	for kind, sender := range call.senders {
		track, ok := ep.Track(kind)
		if !ok {
			continue
		}
		if err := sender.ReplaceTrack(track); err != nil {
			a.logger.Warn("failed to replace track",
				zap.String("session_id", call.ID),
				zap.String("kind", kind.String()),
				zap.Error(err))
			a.emitError(call, transportErr(err))
		}
	}
	call.local = ep
}

func (a *Adapter) flushCandidates(call *Call) {
	for _, c := range call.candidates {
		if err := call.pc.AddICECandidate(c); err != nil {
			a.logger.Warn("failed to add candidate", zap.String("session_id", call.ID), zap.Error(err))
		}
	}
	call.candidates = nil
}

func (a *Adapter) sendCandidate(call *Call, candidate webrtc.ICECandidateInit) {
	if call.closed {
		return
	}
	payload, err := json.Marshal(candidate)
	if err != nil {
		return
	}
	if err := a.send(call, models.SignalTypeCandidate, payload); err != nil {
		a.logger.Debug("failed to send candidate", zap.Error(err))
	}
}

func (a *Adapter) sendDescription(call *Call, typ models.SignalType, desc webrtc.SessionDescription) error {
	payload, err := json.Marshal(desc)
	if err != nil {
		return err
	}
	return a.send(call, typ, payload)
}

func (a *Adapter) send(call *Call, typ models.SignalType, payload json.RawMessage) error {
	return a.sig.Send(models.SignalMessage{
		Type:      typ,
		To:        call.RemoteID,
		SessionID: call.ID,
		Payload:   payload,
	})
}

func (a *Adapter) remoteTrack(call *Call, track RemoteTrack) {
	if call.closed {
		return
	}
	if call.firstTrack == nil {
		call.firstTrack = track
	}
	a.maybeReady(call)
}

func (a *Adapter) connectionState(call *Call, state webrtc.PeerConnectionState) {
	if call.closed {
		return
	}
	a.logger.Debug("peer connection state", zap.String("session_id", call.ID), zap.String("state", state.String()))

	switch state {
	case webrtc.PeerConnectionStateConnected:
		call.connected = true
		a.maybeReady(call)
	case webrtc.PeerConnectionStateFailed:
		a.fail(call, apperrors.ErrTransport.WithMessage("peer connection failed"))
	}
}

// maybeReady reports the transport usable once connected. The caller also
// waits for the first remote track; the camera side sends only.
func (a *Adapter) maybeReady(call *Call) {
	if !call.connected {
		return
	}
	if call.firstTrack != nil && !call.streamSent {
		call.streamSent = true
		a.emitRemoteStream(call, call.firstTrack)
	}
	if call.readySent || (call.Outgoing && call.firstTrack == nil) {
		return
	}
	call.readySent = true
	if err := a.sig.Send(models.SignalMessage{Type: models.SignalTypeReady, SessionID: call.ID}); err != nil {
		a.logger.Warn("failed to send ready", zap.String("session_id", call.ID), zap.Error(err))
	}
}

// fail reports a local failure to the other party and closes the call.
// There is no retry.
func (a *Adapter) fail(call *Call, err error) {
	if call.closed {
		return
	}
	a.logger.Warn("call failed", zap.String("session_id", call.ID), zap.Error(err))

	appErr := apperrors.WrapError(apperrors.ErrCodeTransport, err)
	_ = a.sig.Send(models.SignalMessage{
		Type:      models.SignalTypeError,
		To:        call.RemoteID,
		SessionID: call.ID,
		Code:      string(appErr.Code),
		Error:     appErr.Message,
	})
	a.closeCall(call, models.ReasonPeerError, err)
}

func (a *Adapter) hangup(call *Call) {
	if call.closed {
		return
	}
	if err := a.sig.Send(models.SignalMessage{Type: models.SignalTypeHangup, SessionID: call.ID}); err != nil {
		a.logger.Debug("failed to send hangup", zap.Error(err))
	}
	a.closeCall(call, models.ReasonHangup, nil)
}

func (a *Adapter) closeCall(call *Call, reason string, err error) {
	if call.closed {
		return
	}
	call.closed = true
	delete(a.calls, call.ID)

	if call.pc != nil {
		if cerr := call.pc.Close(); cerr != nil {
			a.logger.Debug("failed to close peer connection", zap.Error(cerr))
		}
	}
	a.logger.Info("call closed", zap.String("session_id", call.ID), zap.String("reason", reason))

	if call.setState(models.SessionClosed, reason) {
		a.emitStatus(call, models.SessionClosed)
	}
	if err != nil {
		a.emitError(call, err)
	}
	a.emitClose(call)
}

// releaseAll ends every call and pending call request and stops local media.
func (a *Adapter) releaseAll(hangup bool, cause error) {
	for _, call := range a.calls {
		if hangup {
			a.hangup(call)
		} else {
			a.closeCall(call, models.ReasonPeerDisconnected, cause)
		}
	}

	waitErr := cause
	if waitErr == nil {
		waitErr = ErrAdapterClosed
	}
	for ref, w := range a.waiters {
		delete(a.waiters, ref)
		w.result <- callResult{err: waitErr}
	}

	if a.local != nil {
		a.local.Stop()
		a.local = nil
	}
}

func (a *Adapter) localInUse() bool {
	if a.local == nil {
		return false
	}
	for _, c := range a.calls {
		if c.local == a.local {
			return true
		}
	}
	return false
}

func reasonErr(reason string) error {
	switch reason {
	case models.ReasonPeerDisconnected:
		return apperrors.ErrPeerDisconnected
	case models.ReasonPeerError:
		return apperrors.ErrTransport
	}
	return nil
}

func transportErr(err error) error {
	if err == nil {
		return nil
	}
	return apperrors.WrapError(apperrors.ErrCodeTransport, err)
}

func (a *Adapter) dispatch() {
	defer close(a.notifyStopped)
	for {
		a.runHandlers()
		select {
		case <-a.notify.wake:
		case <-a.notifyDone:
			a.runHandlers()
			return
		}
	}
}

func (a *Adapter) runHandlers() {
	fns := a.notify.drain()
	if len(fns) == 0 {
		return
	}
	a.inHandler.Store(true)
	defer a.inHandler.Store(false)
	for _, fn := range fns {
		fn()
	}
}

func (a *Adapter) emitRemoteStream(call *Call, track RemoteTrack) {
	a.hmu.RLock()
	fn := a.onRemoteStream
	a.hmu.RUnlock()
	if fn != nil {
		a.notify.push(func() { fn(call, track) })
	}
}

func (a *Adapter) emitError(call *Call, err error) {
	a.hmu.RLock()
	fn := a.onError
	a.hmu.RUnlock()
	if fn != nil {
		a.notify.push(func() { fn(call, err) })
	}
}

func (a *Adapter) emitClose(call *Call) {
	a.hmu.RLock()
	fn := a.onClose
	a.hmu.RUnlock()
	if fn != nil {
		a.notify.push(func() { fn(call) })
	}
}

func (a *Adapter) emitStatus(call *Call, state models.SessionState) {
	a.hmu.RLock()
	fn := a.onStatus
	a.hmu.RUnlock()
	if fn != nil {
		a.notify.push(func() { fn(call, state) })
	}
}

func (a *Adapter) emitIncoming(call *Call) {
	a.hmu.RLock()
	fn := a.onIncoming
	a.hmu.RUnlock()
	if fn != nil {
		a.notify.push(func() { fn(call) })
	}
}

// queue is an unbounded FIFO of closures. Pushing never blocks, so pion
// callbacks fired from inside the event loop cannot deadlock it.
type queue struct {
	mu    sync.Mutex
	items []func()
	wake  chan struct{}
}

func newQueue() *queue {
	return &queue{wake: make(chan struct{}, 1)}
}

func (q *queue) push(fn func()) {
	q.mu.Lock()
	q.items = append(q.items, fn)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *queue) drain() []func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

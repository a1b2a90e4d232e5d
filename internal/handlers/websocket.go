package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/mossy-p/peercam/config"
	apperrors "github.com/mossy-p/peercam/internal/errors"
	"github.com/mossy-p/peercam/internal/metrics"
	"github.com/mossy-p/peercam/internal/models"
	"github.com/mossy-p/peercam/internal/registry"
	"github.com/mossy-p/peercam/internal/relay"
	"github.com/mossy-p/peercam/internal/session"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Signaling serves the WebSocket endpoint. Every connection is one peer:
// it is registered on connect, receives its identity in a "registered"
// message, and is deregistered when the socket goes away.
type Signaling struct {
	registry *registry.Registry
	relay    *relay.Relay
	sessions *session.Coordinator
	limits   config.SignalingConfig
	logger   *zap.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
}

func NewSignaling(reg *registry.Registry, rel *relay.Relay, coord *session.Coordinator, limits config.SignalingConfig, logger *zap.Logger, m *metrics.Metrics) *Signaling {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Signaling{
		registry: reg,
		relay:    rel,
		sessions: coord,
		limits:   limits,
		logger:   logger,
		metrics:  m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Origin checking is handled by middleware
				return true
			},
		},
	}
	coord.SetNotifier(s.Notify)
	return s
}

// client is one signaling connection.
type client struct {
	id      string
	conn    *websocket.Conn
	peer    *relay.Peer
	limiter *rate.Limiter
	logger  *zap.Logger

	// Close frame sent by the write loop once the queue is drained. Set by
	// the read loop before it detaches.
	closeCode int
	closeText string
}

func (cl *client) closeWith(code int, text string) {
	cl.closeCode = code
	cl.closeText = text
}

// HandleSignaling handles WebSocket connections for signaling
func (s *Signaling) HandleSignaling(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("failed to upgrade connection", zap.Error(err))
		return
	}

	id, err := s.registry.Register(c.Request.Context())
	if err != nil {
		s.logger.Warn("registration refused", zap.Error(err))
		data, _ := json.Marshal(errorMessage("", "", err))
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteMessage(websocket.TextMessage, data)
		writeClose(conn, websocket.CloseTryAgainLater, string(apperrors.CodeOf(err)))
		conn.Close()
		return
	}

	cl := &client{
		id:     id,
		conn:   conn,
		peer:   s.relay.Attach(id),
		logger: s.logger.With(zap.String("peer_id", id)),
	}
	if s.limits.MaxMessagesPerSecond > 0 {
		cl.limiter = rate.NewLimiter(rate.Limit(s.limits.MaxMessagesPerSecond), s.limits.MaxMessagesPerSecond)
	}

	cl.logger.Info("peer connected", zap.String("remote_addr", c.Request.RemoteAddr))
	s.relay.Send(id, models.SignalMessage{Type: models.SignalTypeRegistered, To: id})

	go s.writePump(cl)
	go s.readPump(cl)
}

func (s *Signaling) readPump(cl *client) {
	// Detaching ends the write loop, which flushes the queue and closes
	// the socket.
	defer func() {
		s.relay.Detach(cl.peer)
		// Deregistering closes every session of this peer and tells the
		// other parties.
		s.registry.Deregister(context.Background(), cl.id)
		cl.logger.Info("peer disconnected")
	}()

	if s.limits.MaxMessageBytes > 0 {
		cl.conn.SetReadLimit(s.limits.MaxMessageBytes)
	}
	cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		cl.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, data, err := cl.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				cl.logger.Info("websocket read failed", zap.Error(err))
			}
			return
		}
		if msgType != websocket.TextMessage {
			cl.closeWith(websocket.CloseUnsupportedData, "expected text message")
			return
		}
		if cl.limiter != nil && !cl.limiter.Allow() {
			s.dropped(metrics.DropRateLimited)
			cl.logger.Warn("signaling rate limit exceeded")
			s.replyError(cl.id, "", "", apperrors.ErrRateLimited)
			cl.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		var msg models.SignalMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			cl.logger.Debug("failed to parse message", zap.Error(err))
			s.replyError(cl.id, "", "", apperrors.ErrInvalidMessage.WithCause(err))
			continue
		}

		// Senders cannot spoof their identity.
		msg.From = cl.id
		s.dispatch(cl, msg)
	}
}

func (s *Signaling) dispatch(cl *client, msg models.SignalMessage) {
	switch {
	case msg.Type == models.SignalTypeCall:
		s.handleCall(cl, msg)
	case msg.Type.Relayed():
		s.handleRelayed(cl, msg)
	case msg.Type == models.SignalTypeReady:
		s.handleSessionErr(cl, msg, s.sessions.MarkReady(msg.SessionID, cl.id))
	case msg.Type == models.SignalTypeHangup:
		s.handleSessionErr(cl, msg, s.sessions.Hangup(msg.SessionID, cl.id, models.ReasonHangup))
	default:
		cl.logger.Debug("unsupported message type", zap.String("type", string(msg.Type)))
		s.replyError(cl.id, msg.SessionID, msg.Ref,
			apperrors.ErrInvalidMessage.WithMessage("unsupported message type %q", msg.Type))
	}
}

// handleCall opens a session. Failures go back to the caller only; an
// unknown camera id never produces traffic towards that id. On success the
// notifier announces the session to both parties.
func (s *Signaling) handleCall(cl *client, msg models.SignalMessage) {
	if _, err := s.sessions.Initiate(msg.To, cl.id, msg.Ref); err != nil {
		cl.logger.Info("call rejected", zap.String("camera_id", msg.To), zap.Error(err))
		s.replyError(cl.id, "", msg.Ref, err)
	}
}

func (s *Signaling) handleRelayed(cl *client, msg models.SignalMessage) {
	to, err := s.sessions.Route(msg.SessionID, cl.id, msg.Type)
	if err != nil {
		s.handleSessionErr(cl, msg, err)
		return
	}

	msg.To = to
	s.relay.Send(to, msg)

	if msg.Type == models.SignalTypeError {
		// A peer reporting a failure ends the session; there is no retry.
		_ = s.sessions.Hangup(msg.SessionID, cl.id, models.ReasonPeerError)
	}
}

// handleSessionErr drops messages for closed sessions silently and reports
// anything else back to the sender.
func (s *Signaling) handleSessionErr(cl *client, msg models.SignalMessage, err error) {
	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrSessionClosed):
		s.dropped(metrics.DropSessionClosed)
		cl.logger.Debug("dropping message for closed session",
			zap.String("session_id", msg.SessionID),
			zap.String("type", string(msg.Type)))
	case errors.Is(err, apperrors.ErrUnknownSession):
		s.dropped(metrics.DropUnknownSession)
		cl.logger.Warn("message for unknown session",
			zap.String("session_id", msg.SessionID),
			zap.String("type", string(msg.Type)))
		s.replyError(cl.id, msg.SessionID, msg.Ref, err)
	default:
		s.dropped(metrics.DropNotParty)
		cl.logger.Warn("invalid session message",
			zap.String("session_id", msg.SessionID),
			zap.String("type", string(msg.Type)),
			zap.Error(err))
		s.replyError(cl.id, msg.SessionID, msg.Ref, err)
	}
}

// Notify implements session.Notifier. It runs under the coordinator lock,
// so every party sees a session's messages in transition order: the camera
// gets "incoming" before any later status of the same session.
func (s *Signaling) Notify(info models.SessionInfo) {
	if info.State == models.SessionPending {
		s.relay.Send(info.CameraID, models.SignalMessage{
			Type:      models.SignalTypeIncoming,
			From:      info.ViewerID,
			To:        info.CameraID,
			SessionID: info.ID,
		})
		s.relay.Send(info.ViewerID, models.SignalMessage{
			Type:      models.SignalTypeStatus,
			From:      info.CameraID,
			To:        info.ViewerID,
			SessionID: info.ID,
			Ref:       info.CallRef,
			State:     info.State,
		})
		return
	}
	for _, party := range []string{info.CameraID, info.ViewerID} {
		if !s.relay.Connected(party) {
			continue
		}
		s.relay.Send(party, models.SignalMessage{
			Type:      models.SignalTypeStatus,
			From:      info.Peer(party),
			To:        party,
			SessionID: info.ID,
			State:     info.State,
			Reason:    info.Reason,
		})
	}
}

func (s *Signaling) replyError(to, sessionID, ref string, err error) {
	s.relay.Send(to, errorMessage(sessionID, ref, err))
}

func (s *Signaling) dropped(reason string) {
	if s.metrics != nil {
		s.metrics.MessagesDropped.WithLabelValues(reason).Inc()
	}
}

func errorMessage(sessionID, ref string, err error) models.SignalMessage {
	appErr := apperrors.WrapError(apperrors.ErrCodeInternal, err)
	return models.SignalMessage{
		Type:      models.SignalTypeError,
		SessionID: sessionID,
		Ref:       ref,
		Code:      string(appErr.Code),
		Error:     appErr.Message,
	}
}

func (s *Signaling) writePump(cl *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cl.conn.Close()
	}()

	for {
		select {
		case message, ok := <-cl.peer.Outbound():
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				data := []byte{}
				if cl.closeCode != 0 {
					data = websocket.FormatCloseMessage(cl.closeCode, cl.closeText)
				}
				cl.conn.WriteMessage(websocket.CloseMessage, data)
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				cl.logger.Info("failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			s.touch(cl)
		}
	}
}

// touch refreshes the peer's presence claim while its connection is alive.
func (s *Signaling) touch(cl *client) {
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	if err := s.registry.Touch(ctx, cl.id); err != nil {
		cl.logger.Debug("presence refresh failed", zap.Error(err))
	}
}

func writeClose(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

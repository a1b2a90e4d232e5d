package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	apperrors "github.com/mossy-p/peercam/internal/errors"
	"github.com/mossy-p/peercam/internal/models"
	"go.uber.org/zap"
)

const signalWriteWait = 10 * time.Second

// Signaler carries signaling messages between this peer and the server.
type Signaler interface {
	// ID is the identity the server assigned to this peer.
	ID() string
	Send(msg models.SignalMessage) error
	// Messages is closed when the connection is lost.
	Messages() <-chan models.SignalMessage
	Close() error
}

// WSSignaler is a Signaler over the server's WebSocket endpoint.
type WSSignaler struct {
	id       string
	conn     *websocket.Conn
	incoming chan models.SignalMessage
	done     chan struct{}
	logger   *zap.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// Dial connects to url and waits for the identity assignment. A server at
// capacity answers with an error message, returned as CapacityExceeded.
func Dial(ctx context.Context, url string, logger *zap.Logger) (*WSSignaler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}
	var first models.SignalMessage
	if err := conn.ReadJSON(&first); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read registration: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	switch first.Type {
	case models.SignalTypeRegistered:
	case models.SignalTypeError:
		conn.Close()
		return nil, apperrors.FromWire(first.Code, first.Error)
	default:
		conn.Close()
		return nil, fmt.Errorf("unexpected %q before registration", first.Type)
	}

	s := &WSSignaler{
		id:       first.To,
		conn:     conn,
		incoming: make(chan models.SignalMessage, 64),
		done:     make(chan struct{}),
		logger:   logger.With(zap.String("peer_id", first.To)),
	}
	go s.readLoop()
	return s, nil
}

func (s *WSSignaler) ID() string { return s.id }

func (s *WSSignaler) Messages() <-chan models.SignalMessage { return s.incoming }

func (s *WSSignaler) Send(msg models.SignalMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(signalWriteWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *WSSignaler) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

func (s *WSSignaler) readLoop() {
	defer close(s.incoming)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Info("signaling connection lost", zap.Error(err))
			}
			return
		}

		var msg models.SignalMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("failed to parse signaling message", zap.Error(err))
			continue
		}

		select {
		case s.incoming <- msg:
		case <-s.done:
			return
		}
	}
}

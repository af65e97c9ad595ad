package transfer

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/websocket"
)

// socketSender streams chunks as binary frames over one WebSocket. A failed
// frame ends the upload: there is no retry and no per-chunk digest on this
// transport.
type socketSender struct {
	session *Session
	conn    *websocket.Conn
	log     logrus.FieldLogger

	closeOnce sync.Once
	closeErr  error
}

// dialSocket connects to the service socket and binds it to session.
func dialSocket(ctx context.Context, baseURL string, session *Session, log logrus.FieldLogger) (*socketSender, error) {
	const op = "socket handshake"
	target, origin, err := socketURL(baseURL)
	if err != nil {
		return nil, &Error{Op: op, Kind: ErrInvalidInput, Err: err}
	}
	cfg, err := websocket.NewConfig(target, origin)
	if err != nil {
		return nil, &Error{Op: op, Kind: ErrInvalidInput, Err: err}
	}
	conn, err := cfg.DialContext(ctx)
	if err != nil {
		return nil, &Error{Op: op, Kind: ErrChunkTransfer, Err: err}
	}

	s := &socketSender{
		session: session,
		conn:    conn,
		log:     log.WithFields(logrus.Fields{"session_id": session.ID, "socket": target}),
	}
	if err := s.handshake(); err != nil {
		conn.Close()
		return nil, &Error{Op: op, Kind: ErrChunkTransfer, Err: err}
	}
	s.log.Debug("socket ready")
	return s, nil
}

func (s *socketSender) handshake() error {
	if err := websocket.Message.Send(s.conn, SocketClientHello); err != nil {
		return err
	}
	if err := s.expect(SocketAskStream); err != nil {
		return err
	}
	if err := websocket.Message.Send(s.conn, s.session.ID); err != nil {
		return err
	}
	return s.expect(SocketReady)
}

func (s *socketSender) expect(want string) error {
	var msg string
	if err := websocket.Message.Receive(s.conn, &msg); err != nil {
		return err
	}
	if strings.HasPrefix(msg, SocketErrorPrefix) {
		return fmt.Errorf("server rejected socket: %s", strings.TrimSpace(strings.TrimPrefix(msg, SocketErrorPrefix)))
	}
	if msg != want {
		return fmt.Errorf("unexpected socket message %q, want %q", msg, want)
	}
	return nil
}

func (s *socketSender) send(_ context.Context, data []byte, _ string) error {
	if err := s.session.uploading(); err != nil {
		return err
	}
	if err := websocket.Message.Send(s.conn, data); err != nil {
		return &Error{Op: "send frame", Kind: ErrChunkTransfer, Err: err}
	}
	return nil
}

func (s *socketSender) retryable() bool   { return false }
func (s *socketSender) sendsDigest() bool { return false }

// close sends a normal-closure frame. Later calls return the first result.
func (s *socketSender) close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

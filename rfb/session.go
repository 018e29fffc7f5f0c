package rfb

import (
	"fmt"
	"io"
	"iter"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Session is an established connection. Next and Messages must be driven from
// a single goroutine; Send may be called concurrently with them.
type Session struct {
	conn        *Conn
	role        Role
	version     ProtocolVersion
	init        ServerInit
	security    SecurityType
	shared      bool
	decoders    Decoders
	idleTimeout time.Duration
	logger      *zap.Logger

	mu        sync.Mutex
	pf        PixelFormat
	encodings []Encoding
	err       error
}

func newSession(h *Handshake) *Session {
	decoders := h.cfg.Decoders
	if decoders == nil {
		decoders = DefaultDecoders()
	}
	return &Session{
		conn:        h.conn,
		role:        h.role,
		version:     h.version,
		init:        h.init,
		security:    h.security,
		shared:      h.shared,
		decoders:    decoders,
		idleTimeout: h.cfg.IdleTimeout,
		logger:      h.logger,
		pf:          h.init.PixelFormat,
	}
}

// ServerInit returns the framebuffer parameters agreed during the handshake.
func (s *Session) ServerInit() ServerInit { return s.init }

// Version returns the protocol version both sides agreed on.
func (s *Session) Version() ProtocolVersion { return s.version }

// Role returns the side this session plays.
func (s *Session) Role() Role { return s.role }

// SecurityType returns the negotiated security type.
func (s *Session) SecurityType() SecurityType { return s.security }

// Shared returns the ClientInit shared flag.
func (s *Session) Shared() bool { return s.shared }

// RemoteAddr returns the peer address, or "unknown".
func (s *Session) RemoteAddr() string { return s.conn.RemoteAddr() }

// PixelFormat returns the pixel format in force: the ServerInit format until
// the client sends SetPixelFormat.
func (s *Session) PixelFormat() PixelFormat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pf
}

// Encodings returns the last encoding list the client announced.
func (s *Session) Encodings() []Encoding {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.encodings)
}

// Close closes the transport. A Next blocked on a read returns io.EOF.
func (s *Session) Close() error {
	return s.conn.Close()
}

func (s *Session) outbound() Direction {
	if s.role == RoleServer {
		return ServerToClient
	}
	return ClientToServer
}

// Send writes m in a single write. The message direction must match the role.
func (s *Session) Send(m Message) error {
	if m.Direction() != s.outbound() {
		return fmt.Errorf("rfb: %s cannot send %s", s.role, MessageName(m.Direction(), m.Type()))
	}
	if s.conn.Closed() {
		return newError(KindClosed, "send", nil)
	}
	if err := s.conn.writeFrame("write "+MessageName(m.Direction(), m.Type()), Encode(m)); err != nil {
		return err
	}
	s.observe(m)
	return nil
}

// Next reads the next inbound message. It returns io.EOF once the peer closes
// cleanly between messages or after a local Close. Any other error is final:
// later calls return it again.
func (s *Session) Next() (Message, error) {
	s.mu.Lock()
	if s.err != nil {
		err := s.err
		s.mu.Unlock()
		return nil, err
	}
	pf := s.pf
	s.mu.Unlock()

	if s.idleTimeout > 0 {
		s.conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
	}

	var (
		m   Message
		err error
	)
	if s.role == RoleServer {
		m, err = ReadClientMessage(s.conn)
	} else {
		m, err = ReadServerMessage(s.conn, pf, s.decoders)
	}
	if err != nil {
		// Only a bare io.EOF before a tag is a clean end. EOF inside a
		// message arrives wrapped as a TruncatedFrame and stays fatal.
		if err == io.EOF || s.conn.Closed() {
			err = io.EOF
		}
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		if err != io.EOF {
			s.logger.Debug("session read failed", zap.Error(err))
		}
		return nil, err
	}

	s.observe(m)
	return m, nil
}

// observe tracks messages that change how later messages are framed.
func (s *Session) observe(m Message) {
	switch m := m.(type) {
	case *SetPixelFormatMessage:
		s.mu.Lock()
		s.pf = m.PixelFormat
		s.mu.Unlock()
	case *SetEncodingsMessage:
		s.mu.Lock()
		s.encodings = slices.Clone(m.Encodings)
		s.mu.Unlock()
	}
}

// Messages returns the inbound messages in arrival order. The sequence ends
// without an error at a clean close. Otherwise the final pair carries the
// error that ended it.
func (s *Session) Messages() iter.Seq2[Message, error] {
	return func(yield func(Message, error) bool) {
		for {
			m, err := s.Next()
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(m, nil) {
				return
			}
		}
	}
}

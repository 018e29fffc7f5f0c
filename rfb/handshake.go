package rfb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"go.uber.org/zap"
)

// Config holds the settings for one handshake. Fields that only apply to one
// role are ignored by the other.
type Config struct {
	// Security is the client's preference order, or the server's supported
	// set. Types other than SecurityNone are only used when Authenticate is
	// set. Defaults to [SecurityNone].
	Security []SecurityType

	// Authenticate runs the scheme-specific exchange for a non-None type
	// after it has been chosen. On the server, an error is reported to the
	// client as a failed security result carrying err.Error().
	Authenticate func(ctx context.Context, t SecurityType, rw io.ReadWriter) error

	// Timeout bounds every read during the handshake. Zero means
	// DefaultHandshakeTimeout; negative disables the bound.
	Timeout time.Duration

	// ServerInit is what the server role announces.
	ServerInit ServerInit

	// RefuseReason makes the server refuse the connection by offering zero
	// security types with this reason.
	RefuseReason string

	// Shared is the ClientInit flag sent by the client role.
	Shared bool

	// Decoders frames FramebufferUpdate rectangles in the client session.
	// Nil means DefaultDecoders.
	Decoders Decoders

	// IdleTimeout bounds each session read once established. Zero disables it.
	IdleTimeout time.Duration

	// OnStateChange observes every transition, including the one to Failed.
	OnStateChange func(from, to State)

	// Logger receives debug output for transitions. Nil means no logging.
	Logger *zap.Logger
}

func (c *Config) timeout() time.Duration {
	if c.Timeout == 0 {
		return DefaultHandshakeTimeout
	}
	return c.Timeout
}

// usableSecurity drops types we cannot complete: anything but None needs an
// Authenticate hook.
func (c *Config) usableSecurity() []SecurityType {
	if len(c.Security) == 0 {
		return []SecurityType{SecurityNone}
	}
	usable := make([]SecurityType, 0, len(c.Security))
	for _, t := range c.Security {
		if t == SecurityNone || (t != SecurityInvalid && c.Authenticate != nil) {
			usable = append(usable, t)
		}
	}
	return usable
}

// Handshake drives one connection from the version exchange to Established
// or Failed. The same machine serves both roles; Role only picks which side
// of each step it plays.
type Handshake struct {
	role   Role
	conn   *Conn
	cfg    Config
	logger *zap.Logger

	state    State
	err      error
	version  ProtocolVersion
	security SecurityType
	shared   bool
	init     ServerInit
}

// NewHandshake prepares a handshake over conn. Nothing is sent until Run.
func NewHandshake(role Role, conn *Conn, cfg Config) *Handshake {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handshake{
		role:   role,
		conn:   conn,
		cfg:    cfg,
		logger: logger.With(zap.String("role", role.String()), zap.String("remote_addr", conn.RemoteAddr())),
		state:  StateAwaitingVersion,
	}
}

// ServerHandshake runs the server role over t and returns the established session.
func ServerHandshake(ctx context.Context, t Transport, cfg Config) (*Session, error) {
	return NewHandshake(RoleServer, NewConn(t), cfg).Run(ctx)
}

// ClientHandshake runs the client role over t and returns the established session.
func ClientHandshake(ctx context.Context, t Transport, cfg Config) (*Session, error) {
	return NewHandshake(RoleClient, NewConn(t), cfg).Run(ctx)
}

// State returns the current step.
func (h *Handshake) State() State { return h.state }

// Err returns the failure reason once the state is Failed.
func (h *Handshake) Err() error { return h.err }

// Role returns the side this handshake plays.
func (h *Handshake) Role() Role { return h.role }

// ServerInit returns the negotiated framebuffer parameters. The second
// result is false until the handshake is Established.
func (h *Handshake) ServerInit() (ServerInit, bool) {
	return h.init, h.state == StateEstablished
}

// Run performs every step in order. Any failure closes the transport and
// leaves the handshake in StateFailed. Cancelling ctx closes the transport,
// which unblocks the step in progress.
func (h *Handshake) Run(ctx context.Context) (*Session, error) {
	if h.state != StateAwaitingVersion {
		return nil, errors.New("rfb: handshake already run")
	}

	stop := context.AfterFunc(ctx, func() { _ = h.conn.Close() })
	defer stop()

	var err error
	if h.role == RoleServer {
		err = h.runServer(ctx)
	} else {
		err = h.runClient(ctx)
	}
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		return nil, h.fail(ctx, err)
	}

	h.conn.SetReadDeadline(time.Time{})
	h.transition(StateEstablished)
	h.logger.Debug("handshake established",
		zap.Uint16("width", h.init.Width),
		zap.Uint16("height", h.init.Height),
		zap.String("desktop_name", h.init.Name),
		zap.Stringer("security", h.security),
	)
	return newSession(h), nil
}

func (h *Handshake) fail(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			err = &Error{Kind: KindTimeout, Op: h.state.String(), Err: ctxErr}
		} else {
			err = &Error{Kind: KindClosed, Op: h.state.String(), Err: ctxErr}
		}
	}
	_ = h.conn.Close()
	h.err = err
	h.transition(StateFailed)
	h.logger.Debug("handshake failed", zap.Error(err))
	return err
}

func (h *Handshake) transition(to State) {
	from := h.state
	if from.Terminal() || (to != StateFailed && to <= from) {
		panic(fmt.Sprintf("rfb: invalid handshake transition %s -> %s", from, to))
	}
	h.state = to
	h.logger.Debug("handshake transition", zap.Stringer("from", from), zap.Stringer("to", to))
	if h.cfg.OnStateChange != nil {
		h.cfg.OnStateChange(from, to)
	}
}

// arm bounds the next read. Transports without deadlines are closed on
// expiry, which fails the handshake with a Timeout.
func (h *Handshake) arm() {
	if d := h.cfg.timeout(); d > 0 {
		h.conn.SetReadDeadline(time.Now().Add(d))
	}
}

func (h *Handshake) runServer(ctx context.Context) error {
	want := Version38.Bytes()
	if err := h.conn.writeFrame("write ProtocolVersion", want); err != nil {
		return err
	}

	h.arm()
	v, raw, err := ReadProtocolVersion(h.conn)
	if err != nil {
		return err
	}
	if !bytes.Equal(raw, want) {
		return &Error{Kind: KindVersionMismatch, Op: "read ProtocolVersion", Err: fmt.Errorf("client sent %q, want %q", raw, want)}
	}
	h.version = v
	h.transition(StateVersionExchanged)

	offer := Offer(h.cfg.usableSecurity())
	reason := h.cfg.RefuseReason
	if reason == "" && len(offer) == 0 {
		reason = "no supported security types"
	}
	if reason != "" {
		if err := h.conn.writeFrame("write security refusal", AppendSecurityRefusal(nil, reason)); err != nil {
			return err
		}
		return &Error{Kind: KindSecurityRefused, Op: "write security offer", Reason: reason}
	}
	if err := h.conn.writeFrame("write security offer", AppendSecurityOffer(nil, offer)); err != nil {
		return err
	}

	h.arm()
	sel, err := readUint8(h.conn, "read security selection")
	if err != nil {
		return err
	}
	chosen := SecurityType(sel)
	if !slices.Contains(offer, chosen) {
		reason := fmt.Sprintf("security type %d was not offered", sel)
		_ = h.conn.writeFrame("write security result", AppendSecurityResult(nil, SecurityResultFailed, reason))
		return &Error{Kind: KindInvalidSecurityType, Op: "read security selection", Reason: reason}
	}
	h.security = chosen
	h.transition(StateSecuritySelected)

	if chosen != SecurityNone {
		if err := h.cfg.Authenticate(ctx, chosen, h.conn); err != nil {
			_ = h.conn.writeFrame("write security result", AppendSecurityResult(nil, SecurityResultFailed, err.Error()))
			return &Error{Kind: KindSecurityResultFailure, Op: "authenticate", Reason: err.Error(), Err: err}
		}
	}
	if err := h.conn.writeFrame("write security result", AppendSecurityResult(nil, SecurityResultOK, "")); err != nil {
		return err
	}
	h.transition(StateAwaitingClientInit)

	h.arm()
	shared, err := readUint8(h.conn, "read ClientInit")
	if err != nil {
		return err
	}
	h.shared = shared != 0

	if err := h.conn.writeFrame("write ServerInit", AppendServerInit(nil, h.cfg.ServerInit)); err != nil {
		return err
	}
	h.init = h.cfg.ServerInit
	return nil
}

func (h *Handshake) runClient(ctx context.Context) error {
	h.arm()
	v, raw, err := ReadProtocolVersion(h.conn)
	if err != nil {
		return err
	}
	if v.Major != 3 || v.Minor < 8 {
		return &Error{Kind: KindUnsupportedVersion, Op: "read ProtocolVersion", Err: fmt.Errorf("server speaks %d.%d", v.Major, v.Minor)}
	}
	if err := h.conn.writeFrame("write ProtocolVersion", raw); err != nil {
		return err
	}
	h.version = v
	h.transition(StateVersionExchanged)
	h.transition(StateAwaitingSecurityOffer)

	h.arm()
	offer, err := ReadSecurityOffer(h.conn)
	if err != nil {
		return err
	}
	chosen, err := Select(offer, h.cfg.usableSecurity())
	if err != nil {
		return err
	}
	if err := h.conn.writeFrame("write security selection", []byte{uint8(chosen)}); err != nil {
		return err
	}
	h.security = chosen
	h.transition(StateSecuritySelected)

	if chosen != SecurityNone {
		if err := h.cfg.Authenticate(ctx, chosen, h.conn); err != nil {
			return &Error{Kind: KindSecurityResultFailure, Op: "authenticate", Err: err}
		}
	}
	h.transition(StateAwaitingSecurityResult)

	h.arm()
	code, reason, err := ReadSecurityResult(h.conn)
	if err != nil {
		return err
	}
	if err := ValidateResult(code, reason); err != nil {
		return err
	}

	if err := h.conn.writeFrame("write ClientInit", []byte{boolByte(h.cfg.Shared)}); err != nil {
		return err
	}
	h.shared = h.cfg.Shared
	h.transition(StateAwaitingServerInit)

	h.arm()
	init, err := ReadServerInit(h.conn)
	if err != nil {
		return err
	}
	h.init = init
	return nil
}

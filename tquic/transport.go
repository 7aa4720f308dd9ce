// Package tquic carries peer connections over QUIC.
//
// Each peer connection is one QUIC connection with one bidirectional stream.
// The first frame in each direction is a [thandshake.Claim] token,
// so a single round trip both authenticates the instances
// and yields the socket the peer actors use.
package tquic

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gordian-engine/tessera/thandshake"
	"github.com/gordian-engine/tessera/twire"
	"github.com/quic-go/quic-go"
)

// ALPN is the application protocol negotiated on every connection.
const ALPN = "tessera-federation/1"

// DefaultPort is appended to instance names that carry no port.
const DefaultPort = "7443"

// Config is the configuration for [NewTransport].
type Config struct {
	// Already bound; the caller owns and closes it.
	UDPConn *net.UDPConn

	// Must carry the instance's certificate.
	// RootCAs, if set, are used to verify peers.
	TLS *tls.Config

	// Defaults to [DefaultConfig].
	QUIC *quic.Config

	Issuer    *thandshake.Issuer
	Verifier  *thandshake.Verifier
	Connector thandshake.Connector

	// Resolve maps a remote instance name to its UDP address.
	// Defaults to resolving the name with [DefaultPort] if it has no port.
	Resolve func(remote string) (net.Addr, error)

	// Bounds the claim exchange on each connection.
	// Defaults to 10 seconds.
	HandshakeTimeout time.Duration

	// Number of goroutines accepting inbound connections.
	// Defaults to 4.
	AcceptWorkers int
}

func (c *Config) validate() {
	var errs error

	if c.UDPConn == nil {
		errs = errors.Join(errs, errors.New("UDPConn must not be nil"))
	}
	if c.TLS == nil || len(c.TLS.Certificates) == 0 {
		errs = errors.Join(errs, errors.New("TLS must carry a certificate"))
	}
	if c.Issuer == nil {
		errs = errors.Join(errs, errors.New("Issuer must not be nil"))
	}
	if c.Verifier == nil {
		errs = errors.Join(errs, errors.New("Verifier must not be nil"))
	}
	if c.Connector == nil {
		errs = errors.Join(errs, errors.New("Connector must not be nil"))
	}

	if errs != nil {
		panic(fmt.Errorf("BUG: invalid tquic.Config: %w", errs))
	}
}

// DefaultConfig returns the QUIC configuration used when Config.QUIC is nil.
func DefaultConfig() *quic.Config {
	return &quic.Config{
		HandshakeIdleTimeout: 10 * time.Second,

		// Peer connections are long-lived and mostly idle between requests.
		MaxIdleTimeout:  time.Minute,
		KeepAlivePeriod: 20 * time.Second,
	}
}

// Transport listens for and dials QUIC peer connections.
// It satisfies [tpeer.Handshaker].
type Transport struct {
	log *slog.Logger

	qt *quic.Transport
	ql *quic.Listener

	tlsConf  *tls.Config
	quicConf *quic.Config

	issuer    *thandshake.Issuer
	verifier  *thandshake.Verifier
	connector thandshake.Connector

	resolve func(string) (net.Addr, error)
	timeout time.Duration

	wg sync.WaitGroup
}

// NewTransport starts listening on cfg.UDPConn.
// Cancel ctx to stop, then call [*Transport.Wait].
//
// Runtime errors during setup are returned;
// configuration errors cause a panic.
func NewTransport(ctx context.Context, log *slog.Logger, cfg Config) (*Transport, error) {
	cfg.validate()

	if cfg.QUIC == nil {
		cfg.QUIC = DefaultConfig()
	}
	if cfg.Resolve == nil {
		cfg.Resolve = resolveUDP
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.AcceptWorkers <= 0 {
		cfg.AcceptWorkers = 4
	}

	tlsConf := cfg.TLS.Clone()
	if len(tlsConf.NextProtos) == 0 {
		tlsConf.NextProtos = []string{ALPN}
	}

	qt := &quic.Transport{
		Conn: cfg.UDPConn,

		// Connections live as long as the transport, not the dial call.
		ConnContext: func(context.Context, *quic.ClientInfo) (context.Context, error) {
			return ctx, nil
		},
	}

	ql, err := qt.Listen(tlsConf, cfg.QUIC)
	if err != nil {
		return nil, fmt.Errorf("failed to set up QUIC listener: %w", err)
	}

	t := &Transport{
		log: log,

		qt: qt,
		ql: ql,

		tlsConf:  tlsConf,
		quicConf: cfg.QUIC,

		issuer:    cfg.Issuer,
		verifier:  cfg.Verifier,
		connector: cfg.Connector,

		resolve: cfg.Resolve,
		timeout: cfg.HandshakeTimeout,
	}

	t.wg.Add(cfg.AcceptWorkers + 1)
	for range cfg.AcceptWorkers {
		go t.acceptConnections(ctx)
	}
	go t.closeOnDone(ctx)

	return t, nil
}

// Addr returns the local UDP address.
func (t *Transport) Addr() net.Addr {
	return t.ql.Addr()
}

// Wait blocks until the accept loops have stopped.
func (t *Transport) Wait() {
	t.wg.Wait()
}

func (t *Transport) closeOnDone(ctx context.Context) {
	defer t.wg.Done()

	<-ctx.Done()
	if err := t.ql.Close(); err != nil {
		t.log.Debug("Error closing QUIC listener", "err", err)
	}
	if err := t.qt.Close(); err != nil {
		t.log.Debug("Error closing QUIC transport", "err", err)
	}
}

func (t *Transport) acceptConnections(ctx context.Context) {
	defer t.wg.Done()

	for {
		qc, err := t.ql.Accept(ctx)
		if err != nil {
			if context.Cause(ctx) != nil {
				return
			}
			if errors.Is(err, quic.ErrServerClosed) {
				return
			}
			t.log.Info("Failed to accept QUIC connection", "err", err)
			continue
		}

		if err := t.handleInbound(ctx, qc); err != nil {
			t.log.Info(
				"Inbound handshake failed",
				"remote_addr", qc.RemoteAddr(),
				"err", err,
			)
			_ = qc.CloseWithError(closeHandshakeFailed, "handshake failed")
		}
	}
}

// handleInbound reads the dialer's claim, answers with ours,
// and installs the socket.
func (t *Transport) handleInbound(ctx context.Context, qc *quic.Conn) error {
	hctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	s, err := qc.AcceptStream(hctx)
	if err != nil {
		return fmt.Errorf("failed to accept stream: %w", err)
	}
	if err := s.SetDeadline(time.Now().Add(t.timeout)); err != nil {
		return fmt.Errorf("failed to set handshake deadline: %w", err)
	}

	token, err := twire.ReadFrame(s)
	if err != nil {
		return fmt.Errorf("failed to read claim: %w", err)
	}
	c, err := t.verifier.Verify(string(token))
	if err != nil {
		return err
	}

	own, err := t.issuer.Issue(c.Server)
	if err != nil {
		return err
	}
	if err := twire.WriteFrame(s, []byte(own)); err != nil {
		return fmt.Errorf("failed to write claim: %w", err)
	}

	if err := s.SetDeadline(time.Time{}); err != nil {
		return fmt.Errorf("failed to clear handshake deadline: %w", err)
	}

	if err := t.connector.Connect(ctx, c.Server, newSocket(qc, s), c.CapabilitySet()); err != nil {
		return fmt.Errorf("failed to install socket: %w", err)
	}

	t.log.Info("Accepted peer connection", "remote", c.Server, "remote_addr", qc.RemoteAddr())
	return nil
}

// Initiate dials remote, exchanges claims, and installs the socket.
// Unlike the HTTP handshake, the socket is installed before Initiate returns.
func (t *Transport) Initiate(ctx context.Context, remote string) error {
	addr, err := t.resolve(remote)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", remote, err)
	}

	tlsConf := t.tlsConf.Clone()
	tlsConf.ServerName = hostOf(remote)

	qc, err := t.qt.Dial(ctx, addr, tlsConf, t.quicConf)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", remote, err)
	}

	if err := t.handleOutbound(ctx, qc, remote); err != nil {
		_ = qc.CloseWithError(closeHandshakeFailed, "handshake failed")
		return err
	}
	return nil
}

func (t *Transport) handleOutbound(ctx context.Context, qc *quic.Conn, remote string) error {
	hctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	s, err := qc.OpenStreamSync(hctx)
	if err != nil {
		return fmt.Errorf("failed to open stream: %w", err)
	}
	if err := s.SetDeadline(time.Now().Add(t.timeout)); err != nil {
		return fmt.Errorf("failed to set handshake deadline: %w", err)
	}

	own, err := t.issuer.Issue(remote)
	if err != nil {
		return err
	}
	if err := twire.WriteFrame(s, []byte(own)); err != nil {
		return fmt.Errorf("failed to write claim: %w", err)
	}

	token, err := twire.ReadFrame(s)
	if err != nil {
		return fmt.Errorf("failed to read claim: %w", err)
	}
	c, err := t.verifier.Verify(string(token))
	if err != nil {
		return err
	}
	if c.Server != remote {
		return fmt.Errorf("dialed %s but peer claims to be %s", remote, c.Server)
	}

	if err := s.SetDeadline(time.Time{}); err != nil {
		return fmt.Errorf("failed to clear handshake deadline: %w", err)
	}

	if err := t.connector.Connect(ctx, remote, newSocket(qc, s), c.CapabilitySet()); err != nil {
		return fmt.Errorf("failed to install socket: %w", err)
	}

	t.log.Info("Dialed peer connection", "remote", remote, "remote_addr", qc.RemoteAddr())
	return nil
}

func hostOf(remote string) string {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}
	return host
}

func resolveUDP(remote string) (net.Addr, error) {
	if _, _, err := net.SplitHostPort(remote); err != nil {
		remote = net.JoinHostPort(remote, DefaultPort)
	}
	return net.ResolveUDPAddr("udp", remote)
}

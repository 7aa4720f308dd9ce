package thandshake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gordian-engine/tessera/tconn"
	"github.com/gordian-engine/tessera/tplayer"
	"github.com/gordian-engine/tessera/tws"
	"github.com/gorilla/websocket"
)

const (
	// ConnectPath receives a peer's request to be dialed back.
	ConnectPath = "/federation/v1/connect"

	// SocketPath is dialed by a peer that accepted our connect request,
	// and upgraded to the WebSocket the peer actors talk over.
	SocketPath = "/federation/v1/socket"

	authScheme = "Tessera "

	// Context key of the verified [Claim].
	claimKey = "tessera.claim"
)

// Connector installs an authenticated socket for remote.
// [*tessera.Registry] satisfies it.
type Connector interface {
	Connect(ctx context.Context, remote string, s tconn.Socket, caps tplayer.Capabilities) error
}

// ServiceConfig is the configuration for [NewService].
type ServiceConfig struct {
	Issuer    *Issuer
	Verifier  *Verifier
	Connector Connector

	// BaseURL returns the HTTP base URL of remote's handshake server.
	// Defaults to "https://" + remote.
	BaseURL func(remote string) string

	// Defaults to http.DefaultClient.
	HTTPClient *http.Client

	// Defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

// Service runs the HTTP side of the handshake.
//
// Initiating a connection is a POST of our claim to the peer's [ConnectPath].
// The peer verifies it and dials our [SocketPath] with its own claim;
// that request becomes the WebSocket both actors use.
// Dialing back proves that the claimed name routes to the claimant.
type Service struct {
	log *slog.Logger

	// Bounds dial-backs, which outlive the connect request.
	ctx context.Context

	issuer    *Issuer
	verifier  *Verifier
	connector Connector

	baseURL func(string) string
	client  *http.Client
	dialer  *websocket.Dialer

	upgrader websocket.Upgrader

	wg sync.WaitGroup
}

// NewService returns a Service whose background dial-backs stop when ctx is canceled.
func NewService(ctx context.Context, log *slog.Logger, cfg ServiceConfig) *Service {
	if cfg.Issuer == nil || cfg.Verifier == nil || cfg.Connector == nil {
		panic(errors.New("BUG: ServiceConfig requires Issuer, Verifier and Connector"))
	}
	if cfg.BaseURL == nil {
		cfg.BaseURL = func(remote string) string { return "https://" + remote }
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}

	return &Service{
		log: log,
		ctx: ctx,

		issuer:    cfg.Issuer,
		verifier:  cfg.Verifier,
		connector: cfg.Connector,

		baseURL: cfg.BaseURL,
		client:  cfg.HTTPClient,
		dialer:  cfg.Dialer,

		upgrader: websocket.Upgrader{
			// Peers are not browsers; the claim is the authentication.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the router serving [ConnectPath] and [SocketPath].
// Both routes require a valid claim.
func (s *Service) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.logRequests)

	fed := r.Group("", s.authenticate)
	fed.POST(ConnectPath, s.handleConnect)
	fed.GET(SocketPath, s.handleSocket)
	return r
}

func (s *Service) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()

	status := c.Writer.Status()
	level := slog.LevelDebug
	if status >= 500 {
		level = slog.LevelError
	} else if status >= 400 {
		level = slog.LevelInfo
	}

	s.log.Log(
		c.Request.Context(), level, "Handled handshake request",
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"status", status,
		"duration", time.Since(start),
		"client_ip", c.ClientIP(),
	)
}

// Wait blocks until every background dial-back has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Initiate asks remote to dial us back.
// It returns once the remote has accepted the request;
// the socket arrives later through the Connector.
func (s *Service) Initiate(ctx context.Context, remote string) error {
	token, err := s.issuer.Issue(remote)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL(remote)+ConnectPath, nil)
	if err != nil {
		return fmt.Errorf("failed to build connect request: %w", err)
	}
	req.Header.Set("Authorization", authScheme+token)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send connect request to %s: %w", remote, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("%s refused connect request: %s", remote, resp.Status)
	}
	return nil
}

func (s *Service) handleConnect(gc *gin.Context) {
	c := gc.MustGet(claimKey).(Claim)

	gc.Status(http.StatusAccepted)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.dialBack(s.ctx, c); err != nil {
			s.log.Info("Failed to dial back peer", "remote", c.Server, "err", err)
		}
	}()
}

func (s *Service) dialBack(ctx context.Context, c Claim) error {
	token, err := s.issuer.Issue(c.Server)
	if err != nil {
		return err
	}

	header := http.Header{}
	header.Set("Authorization", authScheme+token)

	sock, err := tws.Dial(ctx, s.dialer, websocketURL(s.baseURL(c.Server))+SocketPath, header)
	if err != nil {
		return err
	}

	if err := s.connector.Connect(ctx, c.Server, sock, c.CapabilitySet()); err != nil {
		_ = sock.Close()
		return fmt.Errorf("failed to install socket: %w", err)
	}

	s.log.Info("Connected to peer by dial-back", "remote", c.Server)
	return nil
}

func (s *Service) handleSocket(gc *gin.Context) {
	c := gc.MustGet(claimKey).(Claim)

	conn, err := s.upgrader.Upgrade(gc.Writer, gc.Request, nil)
	if err != nil {
		// The upgrader already replied.
		s.log.Info("Failed to upgrade peer socket", "remote", c.Server, "err", err)
		return
	}
	sock := tws.New(conn)

	if err := s.connector.Connect(s.ctx, c.Server, sock, c.CapabilitySet()); err != nil {
		s.log.Info("Failed to install peer socket", "remote", c.Server, "err", err)
		_ = sock.Close()
		return
	}

	s.log.Info("Accepted peer socket", "remote", c.Server)
}

// authenticate verifies the claim in the Authorization header
// and stores it under claimKey,
// aborting with an error status if it is missing or invalid.
func (s *Service) authenticate(gc *gin.Context) {
	token, ok := strings.CutPrefix(gc.GetHeader("Authorization"), authScheme)
	if !ok || token == "" {
		gc.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing claim"})
		return
	}

	c, err := s.verifier.Verify(token)
	if err != nil {
		s.log.Info("Rejected peer claim", "path", gc.Request.URL.Path, "err", err)
		gc.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid claim"})
		return
	}

	gc.Set(claimKey, c)
	gc.Next()
}

// websocketURL converts an http or https base URL to ws or wss.
func websocketURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}

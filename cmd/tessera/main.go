// Command tessera runs one instance of a federated shared world.
//
// The instance serves the HTTP handshake (and optionally QUIC) to its peers
// and hosts a built-in lobby world whose realms are chat rooms.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/gordian-engine/tessera"
	"github.com/gordian-engine/tessera/internal/ttrace"
	"github.com/gordian-engine/tessera/tconn"
	"github.com/gordian-engine/tessera/thandshake"
	"github.com/gordian-engine/tessera/tquic"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "tessera: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("tessera", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "tessera.toml", "path to the TOML configuration file")
	genKey := fs.Bool("genkey", false, "print a new signing key seed and its public key, then exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *genKey {
		return generateKey(stdout)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	log := newLogger(stderr, cfg)

	// Requests are logged through slog instead.
	gin.SetMode(gin.ReleaseMode)

	key, err := readKey(cfg.KeyFile)
	if err != nil {
		return err
	}

	keys := make(thandshake.StaticKeys, len(cfg.Peers))
	for _, p := range cfg.Peers {
		pk, err := decodePublicKey(p.PublicKey)
		if err != nil {
			return fmt.Errorf("peer %s: %w", p.Name, err)
		}
		keys[p.Name] = pk
	}

	store, err := newMemStore(cfg.Players)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	issuer := thandshake.NewIssuer(thandshake.IssuerConfig{
		Local:        cfg.Name,
		Key:          key,
		Capabilities: cfg.Capabilities,
	})
	verifier := thandshake.NewVerifier(cfg.Name, keys, nil)

	world := newLobby(gctx, log.With("sys", "lobby"), cfg.Realms)

	// The registry needs a handshaker and the transports need the registry;
	// dial is filled in before anything can initiate a connection.
	dial := &dialer{cfg: cfg}

	reg := tessera.NewRegistry(gctx, log.With("sys", "registry"), tessera.RegistryConfig{
		Local:        cfg.Name,
		Capabilities: cfg.Capabilities,

		World:      world,
		Store:      store,
		Handshaker: dial,

		Peers: cfg.peerNames(),

		Connection: tconn.Config{Grace: cfg.Grace},

		TracerProvider: ttrace.GlobalTracerProvider(),
	})

	dial.http = thandshake.NewService(gctx, log.With("sys", "handshake"), thandshake.ServiceConfig{
		Issuer:    issuer,
		Verifier:  verifier,
		Connector: reg,
		BaseURL:   dial.baseURL,
	})

	var tlsConf *tls.Config
	if cfg.TLSCertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			return fmt.Errorf("failed to load TLS certificate: %w", err)
		}
		tlsConf = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	if cfg.QUICListen != "" {
		addr, err := net.ResolveUDPAddr("udp", cfg.QUICListen)
		if err != nil {
			return fmt.Errorf("failed to resolve quic_listen: %w", err)
		}
		uc, err := net.ListenUDP("udp", addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", cfg.QUICListen, err)
		}
		defer uc.Close()

		dial.quic, err = tquic.NewTransport(gctx, log.With("sys", "quic"), tquic.Config{
			UDPConn:   uc,
			TLS:       tlsConf,
			Issuer:    issuer,
			Verifier:  verifier,
			Connector: reg,
			Resolve:   dial.resolveQUIC,
		})
		if err != nil {
			return err
		}
		log.Info("Listening for QUIC peers", "addr", dial.quic.Addr())
	}

	srv := &http.Server{
		Addr:      cfg.HTTPListen,
		Handler:   dial.http.Handler(),
		TLSConfig: tlsConf,
		BaseContext: func(net.Listener) context.Context {
			return gctx
		},
		ErrorLog: slog.NewLogLogger(log.Handler(), slog.LevelWarn),
	}

	g.Go(func() error {
		log.Info("Listening for HTTP peers", "addr", cfg.HTTPListen, "tls", tlsConf != nil)
		var err error
		if tlsConf != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down", "cause", context.Cause(gctx))

		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Warn("HTTP shutdown incomplete", "err", err)
		}

		dial.http.Wait()
		if dial.quic != nil {
			dial.quic.Wait()
		}
		reg.Wait()
		world.Wait()
		return nil
	})

	// Reach out to configured peers so their players can visit right away.
	for _, name := range cfg.peerNames() {
		if _, err := reg.Peer(gctx, name); err != nil {
			log.Warn("Failed to start peer", "remote", name, "err", err)
		}
	}

	return g.Wait()
}

// dialer chooses the transport for outbound connections:
// QUIC for peers with a quic_addr, the HTTP handshake otherwise.
type dialer struct {
	cfg config

	http *thandshake.Service
	quic *tquic.Transport
}

func (d *dialer) Initiate(ctx context.Context, remote string) error {
	if p, ok := d.cfg.peer(remote); ok && p.QUICAddr != "" && d.quic != nil {
		return d.quic.Initiate(ctx, remote)
	}
	return d.http.Initiate(ctx, remote)
}

func (d *dialer) baseURL(remote string) string {
	if p, ok := d.cfg.peer(remote); ok && p.URL != "" {
		return strings.TrimSuffix(p.URL, "/")
	}
	return "https://" + remote
}

func (d *dialer) resolveQUIC(remote string) (net.Addr, error) {
	p, ok := d.cfg.peer(remote)
	if !ok || p.QUICAddr == "" {
		return nil, fmt.Errorf("no quic_addr configured for %s", remote)
	}
	return net.ResolveUDPAddr("udp", p.QUICAddr)
}

func newLogger(w io.Writer, cfg config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}

	var h slog.Handler
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h).With("instance", cfg.Name)
}

func readKey(path string) (ed25519.PrivateKey, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	seed, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(b)))
	if err != nil {
		return nil, fmt.Errorf("failed to decode key file: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("key file holds %d bytes, want a %d-byte seed", len(seed), ed25519.SeedSize)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

func decodePublicKey(s string) (ed25519.PublicKey, error) {
	b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("failed to decode public key: %w", err)
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key has %d bytes, want %d", len(b), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(b), nil
}

func generateKey(w io.Writer) error {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}
	_, err = fmt.Fprintf(w,
		"seed: %s\npublic_key: %s\n",
		base64.StdEncoding.EncodeToString(priv.Seed()),
		base64.StdEncoding.EncodeToString(pub),
	)
	return err
}

// Command multipla runs one end of a point-to-point video frame link:
// the sender packetizes encoded units from an Annex B source into
// length-prefixed packets, the receiver reassembles them and drives a
// decoder stand-in that writes a decodable Annex B stream.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mistrzunio/multipla-poc/certs"
	"github.com/mistrzunio/multipla-poc/session"
	"github.com/mistrzunio/multipla-poc/transport"
	quiclink "github.com/mistrzunio/multipla-poc/transport/quic"
	srtlink "github.com/mistrzunio/multipla-poc/transport/srt"
)

var version = "dev"

// proxyHandler breaks the construction cycle between the transport
// (which needs an event handler) and the binder (which needs the
// transport). The binder pointer is set once before Run starts.
type proxyHandler struct {
	binder *session.Binder
}

func (p *proxyHandler) HandlePeerState(peer transport.Peer, state transport.PeerState) {
	p.binder.HandlePeerState(peer, state)
}

func (p *proxyHandler) HandleBytes(peer transport.Peer, data []byte) {
	p.binder.HandleBytes(peer, data)
}

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	configPath := flag.String("config", "multipla.toml", "path to the TOML config file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		slog.Error("multipla exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	slog.Info("multipla starting",
		"version", version,
		"role", cfg.Role,
		"transport", cfg.Transport,
		"listen", cfg.Listen,
		"dial", cfg.Dial,
	)

	proxy := &proxyHandler{}
	link, err := buildTransport(cfg, proxy)
	if err != nil {
		return err
	}

	role := session.RoleSender
	var out *os.File
	binderCfg := session.Config{
		Transport:  link,
		QueueDepth: cfg.QueueDepth,
	}
	if cfg.Role == "recv" {
		role = session.RoleReceiver
		out, err = os.Create(cfg.Output)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer out.Close()
		binderCfg.Decoder = newAnnexBSink(out, slog.Default())
	}
	binderCfg.Role = role

	binder, err := session.NewBinder(binderCfg)
	if err != nil {
		return err
	}
	proxy.binder = binder

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return link.Run(ctx)
	})
	if cfg.Role == "send" {
		g.Go(func() error {
			return runSource(ctx, binder, cfg.Input, cfg.FrameInterval, slog.Default())
		})
	}

	err = g.Wait()

	if stats, merr := json.Marshal(binder.Stats()); merr == nil {
		slog.Info("final stats", "stats", string(stats))
	}
	return err
}

// buildTransport constructs the configured transport with the handler
// proxy wired in.
func buildTransport(cfg config, h transport.Handler) (transport.Transport, error) {
	switch cfg.Transport {
	case "quic":
		if cfg.Listen != "" {
			cert, err := certs.Generate(14 * 24 * time.Hour)
			if err != nil {
				return nil, fmt.Errorf("generate cert: %w", err)
			}
			slog.Info("certificate generated", "fingerprint", cert.FingerprintBase64())
			return quiclink.Listen(cfg.Listen, cert, h, slog.Default())
		}
		return quiclink.NewDialer(cfg.Dial, cfg.Fingerprint, h, slog.Default()), nil
	case "srt":
		if cfg.Listen != "" {
			return srtlink.Listen(cfg.Listen, h, slog.Default()), nil
		}
		return srtlink.NewDialer(cfg.Dial, cfg.StreamID, h, slog.Default()), nil
	}
	return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
}

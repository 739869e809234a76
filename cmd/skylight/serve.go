package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/skylightd/skylight/internal/config"
	"github.com/skylightd/skylight/internal/errors"
	"github.com/skylightd/skylight/pkg/packet"
	"github.com/skylightd/skylight/pkg/protocol"
	"github.com/skylightd/skylight/pkg/telemetry"
	"github.com/skylightd/skylight/pkg/transport"
)

func serveCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the packet echo and introspection server",
		Long: `Run a packet server that answers the conventional probe types:

  ping   answered with ping_echo, echoing the probe arguments
  echo   answered with echo carrying the same arguments
  info   answered with info carrying a connection snapshot

Connections are accepted on a raw TCP listener and on a WebSocket
endpoint (/ws) that shares one HTTP server with Prometheus metrics
(/metrics), a health check (/healthz), and live connection
introspection (/connections).

Examples:
  skylight serve
  skylight serve --listen 0.0.0.0:14500 --http-listen off
  skylight serve --config /etc/skylight.json --log-format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Path to skylight.json (default: ./skylight.json when present)")
	cmd.Flags().StringVarP(&opts.listen, "listen", "l", "", `TCP listen address (overrides config; "off" disables)`)
	cmd.Flags().StringVar(&opts.httpListen, "http-listen", "", `HTTP/WebSocket listen address (overrides config; "off" disables)`)
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, or error")
	cmd.Flags().StringVar(&opts.logFormat, "log-format", "", "Log format: text or json")
	cmd.Flags().IntVar(&opts.maxConns, "max-conns", 0, "Maximum concurrent connections (0 = unlimited)")

	return cmd
}

type serveOptions struct {
	configPath string
	listen     string
	httpListen string
	logLevel   string
	logFormat  string
	maxConns   int
}

// loadServeConfig loads skylight.json and applies flag overrides on top.
func loadServeConfig(o serveOptions) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if o.configPath != "" {
		cfg, err = config.LoadFile(o.configPath)
	} else {
		wd, werr := os.Getwd()
		if werr != nil {
			return nil, werr
		}
		cfg, err = config.LoadOrDefault(wd)
	}
	if err != nil {
		return nil, err
	}

	if o.listen != "" {
		cfg.Server.Listen = o.listen
	}
	if o.httpListen != "" {
		cfg.Server.HTTPListen = o.httpListen
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Log.Format = o.logFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type server struct {
	cfg      *config.Config
	log      *slog.Logger
	metrics  *telemetry.Metrics
	registry *protocol.Registry
	engine   *protocol.Config
}

func runServe(o serveOptions) error {
	cfg, err := loadServeConfig(o)
	if err != nil {
		return err
	}

	handler, err := cfg.LogHandler(os.Stderr)
	if err != nil {
		return err
	}
	log := slog.New(handler)
	slog.SetDefault(log)

	metrics := telemetry.NewMetrics(telemetry.WithNamespace("skylight"))
	registry := protocol.NewRegistry(&protocol.RegistryConfig{
		MaxProtocols: o.maxConns,
		Logger:       log,
	})

	engine, err := cfg.EngineConfig(protocol.RoleServer)
	if err != nil {
		return err
	}
	engine.Logger = log
	engine.Metrics = metrics
	engine.Registry = registry

	s := &server{
		cfg:      cfg,
		log:      log,
		metrics:  metrics,
		registry: registry,
		engine:   engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var tcpLn net.Listener
	if cfg.TCPEnabled() {
		tcpLn, err = transport.Listen(cfg.Server.Listen)
		if err != nil {
			return errors.New(errors.CategoryNetwork, "cannot listen on "+cfg.Server.Listen).
				Wrap(err).
				WithSuggestion("Is another instance running? Pick a different address with --listen")
		}
		defer tcpLn.Close()
		go s.acceptLoop(tcpLn)
		log.Info("tcp listener up", "addr", tcpLn.Addr().String())
	}

	var httpSrv *http.Server
	httpFailed := make(chan error, 1)
	if cfg.HTTPEnabled() {
		httpSrv = &http.Server{
			Addr:    cfg.Server.HTTPListen,
			Handler: s.router(),
		}
		go func() {
			err := httpSrv.ListenAndServe()
			if err != nil && !stderrors.Is(err, http.ErrServerClosed) {
				httpFailed <- err
			}
		}()
		log.Info("http listener up", "addr", cfg.Server.HTTPListen)
	}

	select {
	case <-ctx.Done():
		log.Info("shutting down", "grace", cfg.ShutdownTimeout().String())
	case err := <-httpFailed:
		return errors.New(errors.CategoryNetwork, "cannot serve http on "+cfg.Server.HTTPListen).
			Wrap(err).
			WithSuggestion("Is another instance running? Pick a different address with --http-listen")
	}

	// Stop accepting, then drain: close every live connection and give
	// the HTTP server the same grace window.
	shutCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()

	if tcpLn != nil {
		tcpLn.Close()
	}
	s.registry.CloseAll("server shutdown")
	if httpSrv != nil {
		if err := httpSrv.Shutdown(shutCtx); err != nil {
			log.Warn("http shutdown incomplete", "error", err)
		}
	}
	s.drain(shutCtx)

	log.Info("server stopped")
	return nil
}

// acceptLoop accepts raw TCP connections until the listener closes.
func (s *server) acceptLoop(ln net.Listener) {
	for {
		c, err := ln.Accept()
		if err != nil {
			if stderrors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Error("accept failed", "error", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}
		s.serveConn(transport.NewStreamConn(c))
	}
}

// serveConn wires a transport connection into a server-role Protocol.
// The registry tracks it from Start until it closes.
func (s *server) serveConn(conn protocol.Conn) {
	p, err := protocol.New(conn, s.engine)
	if err != nil {
		s.log.Error("connection setup failed", "error", err)
		conn.Close()
		return
	}
	p.SetPacketHandler(telemetry.TraceHandler(s.metrics.InstrumentHandler(s.handle(p))))
	if err := p.Start(); err != nil {
		s.log.Warn("connection rejected", "target", conn.Target(), "error", err)
		conn.Close()
		return
	}
}

// handle answers the probe types; everything else is logged and
// dropped. Lifecycle types are the engine's business.
func (s *server) handle(p *protocol.Protocol) protocol.Handler {
	return func(pkt *packet.Packet) {
		switch pkt.Type {
		case packet.TypePing:
			args := append(append([]any{}, pkt.Args...), time.Now().UnixMilli())
			s.reply(p, packet.TypePingEcho, args...)
		case "echo":
			s.reply(p, "echo", pkt.Args...)
		case "info":
			s.reply(p, "info", p.Info())
		case packet.TypeHello, packet.TypeChallenge, packet.TypeEnd, packet.TypeConnectionLost:
			// Engine lifecycle; nothing to answer.
		case packet.TypeGibberish, packet.TypeInvalid:
			s.log.Warn("bad payload from peer", "kind", pkt.Type, "detail", pkt.Arg(0).Str())
		default:
			s.log.Debug("unhandled packet type", "type", pkt.Type)
		}
	}
}

func (s *server) reply(p *protocol.Protocol, ptype string, args ...any) {
	if err := p.Send(ptype, args...); err != nil {
		s.log.Debug("reply not sent", "type", ptype, "error", err)
	}
}

// drain waits for tracked connections to finish closing.
func (s *server) drain(ctx context.Context) {
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for s.registry.Count() > 0 {
		select {
		case <-ctx.Done():
			s.log.Warn("connections still open at shutdown deadline", "count", s.registry.Count())
			return
		case <-tick.C:
		}
	}
}

func (s *server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/connections", s.handleConnections)
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/ws", transport.WSHandler(func(c *transport.WSConn) {
		s.serveConn(c)
	}, transport.WithWSLogger(s.log)))

	return r
}

// requestLogger logs HTTP requests through the server's slog handler.
func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, req)
		s.log.Debug("http request",
			"method", req.Method,
			"path", req.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		)
	})
}

func (s *server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"version":     version,
		"connections": s.registry.Count(),
	})
}

func (s *server) handleConnections(w http.ResponseWriter, _ *http.Request) {
	conns := make([]map[string]any, 0, s.registry.Count())
	s.registry.Each(func(p *protocol.Protocol) {
		conns = append(conns, p.Info())
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"registry":    s.registry.Info(),
		"connections": conns,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

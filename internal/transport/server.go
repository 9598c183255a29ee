// Package transport carries the broker's two external surfaces: the
// bidirectional WebSocket session endpoint at /ws and the HTTP
// admission/observability endpoints. It owns connection state end to end:
// upgrade, read/write pumps, the heartbeat broadcast, and shutdown.
package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/topichub/topichub/internal/broker"
	"github.com/topichub/topichub/internal/config"
	"github.com/topichub/topichub/internal/logging"
	"github.com/topichub/topichub/internal/metrics"
	"github.com/topichub/topichub/internal/protocol"
	"github.com/topichub/topichub/internal/session"
	"github.com/topichub/topichub/internal/transport/limits"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 5 * time.Second

	// Time allowed to read the next frame from the peer. The write pump
	// pings at 9/10 of this period to keep healthy connections alive.
	pongWait   = 30 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Grace period for connection draining during shutdown.
	drainGrace = 10 * time.Second
)

// Server binds the broker to its WebSocket and HTTP surfaces.
type Server struct {
	cfg    *config.Config
	logger zerolog.Logger
	broker *broker.Broker

	httpServer *http.Server
	listener   net.Listener

	conns          sync.Map // *Conn -> struct{}
	connSeq        int64
	connCount      int64
	connectionsSem chan struct{}
	rateLimiter    *limits.ConnectionRateLimiter

	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	shuttingDown int32
}

func NewServer(cfg *config.Config, b *broker.Broker, logger zerolog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		cfg:            cfg,
		logger:         logger.With().Str("component", "transport").Logger(),
		broker:         b,
		connectionsSem: make(chan struct{}, cfg.MaxConnections),
		ctx:            ctx,
		cancel:         cancel,
	}

	if cfg.ConnRateLimitEnabled {
		s.rateLimiter = limits.NewConnectionRateLimiter(limits.Config{
			IPBurst:     cfg.ConnRateLimitIPBurst,
			IPRate:      cfg.ConnRateLimitIPRate,
			GlobalBurst: cfg.ConnRateLimitGlobalBurst,
			GlobalRate:  cfg.ConnRateLimitGlobalRate,
			Logger:      logger,
		})
		s.logger.Info().Msg("Connection rate limiting enabled")
	}

	return s
}

// Start begins listening and serving. Non-blocking: the accept loop and the
// heartbeat run on their own goroutines.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener

	s.httpServer = &http.Server{
		Handler:        s.router(),
		ReadTimeout:    s.cfg.HTTPReadTimeout,
		WriteTimeout:   s.cfg.HTTPWriteTimeout,
		IdleTimeout:    s.cfg.HTTPIdleTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Server accept loop error")
		}
	}()

	s.wg.Add(1)
	go s.heartbeatLoop()

	s.logger.Info().
		Str("address", s.cfg.Addr).
		Int("max_connections", s.cfg.MaxConnections).
		Msg("Server listening")
	return nil
}

// Addr returns the bound listen address. Useful when the configured port
// is 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.Addr
	}
	return s.listener.Addr().String()
}

// heartbeatLoop broadcasts an info:ping envelope to every connected session
// at the configured cadence. Ticker delivery coalesces, so at most one tick
// is ever in flight; the loop stops before the broker does.
func (s *Server) heartbeatLoop() {
	defer s.wg.Done()
	defer logging.RecoverPanic(s.logger, "heartbeatLoop", nil)

	ticker := time.NewTicker(s.cfg.HeartbeatInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			frame, err := protocol.Info(protocol.InfoPing, "").Encode()
			if err != nil {
				s.logger.Error().Err(err).Msg("Failed to encode heartbeat")
				continue
			}
			sent := 0
			s.conns.Range(func(key, _ any) bool {
				if c, ok := key.(*Conn); ok && c.Send(frame) {
					sent++
				}
				return true
			})
			metrics.HeartbeatsTotal.Inc()
			s.logger.Debug().Int("sessions", sent).Msg("Heartbeat broadcast")

		case <-s.ctx.Done():
			return
		}
	}
}

// handleWebSocket upgrades the HTTP request and starts the session pumps.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	clientIP := clientIP(r)

	if atomic.LoadInt32(&s.shuttingDown) == 1 {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	if s.rateLimiter != nil && !s.rateLimiter.Allow(clientIP) {
		metrics.ConnectionsRejected.WithLabelValues("rate_limited").Inc()
		http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	select {
	case s.connectionsSem <- struct{}{}:
	default:
		metrics.ConnectionsRejected.WithLabelValues("capacity").Inc()
		s.logger.Warn().
			Str("client_ip", clientIP).
			Int("max_connections", s.cfg.MaxConnections).
			Msg("Connection rejected: at capacity")
		http.Error(w, "Server at capacity", http.StatusServiceUnavailable)
		return
	}

	sock, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		<-s.connectionsSem
		metrics.ConnectionsRejected.WithLabelValues("upgrade_failed").Inc()
		s.logger.Error().Err(err).Str("client_ip", clientIP).Msg("WebSocket upgrade failed")
		return
	}

	// The HTTP server's timeouts were armed before the hijack; clear them so
	// the session is bounded only by the pump deadlines.
	sock.SetDeadline(time.Time{})

	conn := newConn(atomic.AddInt64(&s.connSeq, 1), sock, s.cfg.SendBufferSize)
	s.conns.Store(conn, struct{}{})
	metrics.ConnectionsTotal.Inc()
	metrics.ConnectionsActive.Set(float64(atomic.AddInt64(&s.connCount, 1)))

	s.logger.Info().
		Int64("conn_id", conn.id).
		Str("client_ip", clientIP).
		Msg("Connection established")

	sess := session.New(s.broker, conn, s.logger)

	go s.writePump(conn)
	go s.readPump(conn, sess)
}

// readPump reads frames from the socket and feeds text frames to the
// session, one at a time. On any read error the connection is torn down.
func (s *Server) readPump(c *Conn, sess *session.Session) {
	defer logging.RecoverPanic(s.logger, "readPump", map[string]any{"conn_id": c.id})
	defer s.disconnect(c)

	c.sock.SetReadDeadline(time.Now().Add(pongWait))

	for {
		msg, op, err := wsutil.ReadClientData(c.sock)
		if err != nil {
			return
		}
		c.sock.SetReadDeadline(time.Now().Add(pongWait))

		switch op {
		case ws.OpText:
			sess.HandleInbound(msg)
		case ws.OpClose:
			return
		default:
			// Control frames are answered by wsutil.
		}
	}
}

// writePump flushes queued frames to the socket, batching consecutive
// writes through one buffered writer, and keeps the connection alive with
// protocol-level pings. When the send channel closes it drains the
// remaining frames, emits a close frame, and closes the socket.
func (s *Server) writePump(c *Conn) {
	defer logging.RecoverPanic(s.logger, "writePump", map[string]any{"conn_id": c.id})

	writer := bufio.NewWriter(c.sock)
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.sock.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				wsutil.WriteServerMessage(c.sock, ws.OpClose, nil)
				return
			}

			c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(writer, ws.OpText, frame); err != nil {
				s.logger.Debug().Err(err).Int64("conn_id", c.id).Msg("Failed to write frame")
				return
			}

			// Batch whatever else is already queued before flushing.
			n := len(c.send)
			for i := 0; i < n; i++ {
				frame, ok = <-c.send
				if !ok {
					writer.Flush()
					wsutil.WriteServerMessage(c.sock, ws.OpClose, nil)
					return
				}
				if err := wsutil.WriteServerMessage(writer, ws.OpText, frame); err != nil {
					s.logger.Debug().Err(err).Int64("conn_id", c.id).Msg("Failed to write frame")
					return
				}
			}
			if err := writer.Flush(); err != nil {
				s.logger.Debug().Err(err).Int64("conn_id", c.id).Msg("Failed to flush writer")
				return
			}

		case <-ticker.C:
			c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(c.sock, ws.OpPing, nil); err != nil {
				s.logger.Debug().Err(err).Int64("conn_id", c.id).Msg("Failed to send ping")
				return
			}
		}
	}
}

// disconnect removes the connection from the broker's subscriber tables and
// from the transport registry. Idempotent with respect to Close.
func (s *Server) disconnect(c *Conn) {
	if _, loaded := s.conns.LoadAndDelete(c); !loaded {
		return
	}
	s.broker.HandleDisconnect(c)
	c.Close()
	<-s.connectionsSem
	metrics.ConnectionsActive.Set(float64(atomic.AddInt64(&s.connCount, -1)))

	s.logger.Info().Int64("conn_id", c.id).Msg("Connection closed")
}

// Shutdown stops heartbeats, refuses new work, and best-effort closes all
// sessions, waiting up to the drain grace period for pumps to finish.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("Initiating graceful shutdown")
	atomic.StoreInt32(&s.shuttingDown, 1)

	// Stop the heartbeat before the broker stops.
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), drainGrace)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("HTTP shutdown did not complete cleanly")
	}

	s.broker.Close()

	s.conns.Range(func(key, _ any) bool {
		if c, ok := key.(*Conn); ok {
			s.disconnect(c)
		}
		return true
	})

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	s.wg.Wait()
	s.logger.Info().Msg("Graceful shutdown completed")
	return nil
}

// clientIP extracts the client IP, honoring X-Forwarded-For from load
// balancers before falling back to RemoteAddr.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// router assembles the HTTP surface.
func (s *Server) router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.requestLoggingMiddleware)

	r.HandleFunc("/ws", s.handleWebSocket)
	r.HandleFunc("/topics", s.handleCreateTopic).Methods(http.MethodPost)
	r.HandleFunc("/topics", s.handleListTopics).Methods(http.MethodGet)
	r.HandleFunc("/topics/{name}", s.handleDeleteTopic).Methods(http.MethodDelete)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	return r
}

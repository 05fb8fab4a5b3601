// Package rpcserver implements the C6 request/response and streaming
// surface on top of internal/wire's framing, dispatching to C3
// (internal/notify), C4 (internal/subscribe), and C5 (internal/ha).
//
// Each accepted connection gets its own goroutine — the same shape as
// the teacher's HTTP server handing each request to net/http's own
// per-connection goroutine, just made explicit here since this is a raw
// net.Listener rather than net/http.
package rpcserver

import (
	"context"
	"encoding/json"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/arloq/notifyd/internal/ha"
	"github.com/arloq/notifyd/internal/metrics"
	"github.com/arloq/notifyd/internal/notify"
	"github.com/arloq/notifyd/internal/subscribe"
	"github.com/arloq/notifyd/internal/wire"
)

// Server is the notification service's wire-protocol listener.
type Server struct {
	listener     net.Listener
	svc          *notify.Service
	subs         *subscribe.Engine
	elector      *ha.Elector // nil when HA is disabled; every call is then treated as leader-served
	maxFrameSize uint32
	metrics      *metrics.Metrics
	log          zerolog.Logger

	wg sync.WaitGroup
}

// New binds addr and returns a Server ready to Serve. elector may be nil
// to run without HA leader gating.
func New(addr string, svc *notify.Service, subs *subscribe.Engine, elector *ha.Elector, maxFrameSize uint32, m *metrics.Metrics, log zerolog.Logger) (*Server, error) {
	if maxFrameSize == 0 {
		maxFrameSize = wire.DefaultMaxFrameSize
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		listener:     ln,
		svc:          svc,
		subs:         subs,
		elector:      elector,
		maxFrameSize: maxFrameSize,
		metrics:      m,
		log:          log.With().Str("component", "rpcserver").Logger(),
	}, nil
}

// Addr returns the bound local address, useful when addr was ":0".
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Serve accepts connections until ctx is cancelled or the listener is
// closed. After ctx is cancelled it blocks until every in-flight
// connection handler returns; any other accept failure, including one
// caused by Close, is returned at once without waiting.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.wg.Wait()
				return nil
			default:
				s.log.Error().Err(err).Msg("accept failed")
				return err
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// Close stops accepting new connections. In-flight ones are left to
// drain on their own; callers that want a hard stop should cancel the
// context passed to Serve instead.
func (s *Server) Close() error {
	return s.listener.Close()
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	log := s.log.With().Str("remote_addr", conn.RemoteAddr().String()).Logger()
	br := wire.NewBufferedReader(conn)

	for {
		frame, err := wire.ReadFrame(br, s.maxFrameSize)
		if err != nil {
			log.Debug().Err(err).Msg("connection closed")
			return
		}

		var env wire.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			log.Warn().Err(err).Msg("malformed envelope")
			return
		}

		if env.Kind == wire.KindListenEvents || env.Kind == wire.KindListenAllEvents {
			s.serveListen(ctx, conn, env)
			return
		}

		resp := s.dispatch(ctx, env)
		encoded, err := json.Marshal(resp)
		if err != nil {
			log.Error().Err(err).Msg("failed to encode response")
			return
		}
		if err := wire.WriteFrame(conn, encoded); err != nil {
			log.Debug().Err(err).Msg("write failed")
			return
		}
	}
}

// Package server accepts game-client connections and answers one JSON
// message per connection.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Alice227USSR/sotuken/policy-bridge/internal/inference"
	"github.com/Alice227USSR/sotuken/policy-bridge/internal/wire"
)

// #region types
// Decider produces the action for one decision request.
type Decider interface {
	Decide(ctx context.Context, observation []int, rawMask []float64, opts inference.Options) (inference.Result, error)
}

// Config holds server switches.
type Config struct {
	AttachLabelTable bool // attach the label table to the first action response
	Concurrent       bool // handle connections in goroutines; the decider must be safe for it
	MaxMessageBytes  int  // zero selects wire.DefaultMaxMessageBytes
}

// Server is the socket front end.
type Server struct {
	decider Decider
	labels  []string
	session *Session
	config  Config
	log     *zap.Logger
	wg      sync.WaitGroup
}

// #endregion types

// #region constructor
// New builds a server. labels is the ordered action-label table; it may be
// empty when no rule engine is available.
func New(decider Decider, labels []string, session *Session, config Config, log *zap.Logger) *Server {
	if session == nil {
		session = NewSession(false)
	}
	if log == nil {
		log = zap.NewNop()
	}
	if config.MaxMessageBytes <= 0 {
		config.MaxMessageBytes = wire.DefaultMaxMessageBytes
	}
	return &Server{
		decider: decider,
		labels:  labels,
		session: session,
		config:  config,
		log:     log,
	}
}

// #endregion constructor

// #region serve
// Serve accepts connections until ctx is cancelled, then closes ln and waits
// for in-flight connections. Without Concurrent each connection is handled to
// completion before the next accept.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	defer s.wg.Wait()

	s.log.Info("listening", zap.String("addr", ln.Addr().String()), zap.Bool("concurrent", s.config.Concurrent))
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.log.Info("server stopped")
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		if !s.config.Concurrent {
			s.handle(ctx, conn)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, conn)
		}()
	}
}

// #endregion serve

// #region handle
func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	log := s.log.With(
		zap.String("conn_id", uuid.NewString()),
		zap.String("remote", conn.RemoteAddr().String()),
	)

	data, err := wire.ReadMessage(conn, s.config.MaxMessageBytes)
	if err != nil {
		if errors.Is(err, io.EOF) {
			log.Debug("connection closed without a message")
			return
		}
		log.Warn("read message failed", zap.Error(err))
		return
	}
	req, err := wire.DecodeRequest(data)
	if err != nil {
		log.Warn("malformed message", zap.Error(err), zap.Int("bytes", len(data)))
		return
	}

	switch req.Type {
	case wire.TypeMaskLogOn:
		s.session.SetVerboseMask(true)
		log.Info("mask logging on")
	case wire.TypeMaskLogOff:
		s.session.SetVerboseMask(false)
		log.Info("mask logging off")
	case wire.TypeLabelRequest:
		items := s.labels
		if items == nil {
			items = []string{}
		}
		s.respond(log, conn, wire.LabelTable{Type: wire.TypeLabelTable, Items: items})
	case wire.TypeGoldenTest:
		s.handleGolden(ctx, log, conn, req)
	default:
		if !req.HasDecisionFields() {
			log.Warn("message is neither a control message nor a decision request", zap.String("type", req.Type))
			return
		}
		s.handleDecision(ctx, log, conn, req)
	}
}

func (s *Server) handleDecision(ctx context.Context, log *zap.Logger, conn net.Conn, req wire.Request) {
	res, err := s.decide(ctx, log, req)
	if err != nil {
		log.Error("decision failed, dropping connection", zap.Error(err))
		return
	}
	resp := wire.ActionResponse{Action: res.Action}
	if s.config.AttachLabelTable && len(s.labels) > 0 && s.session.claimLabelTable() {
		resp.LabelTable = s.labels
		log.Info("label table attached", zap.Int("items", len(s.labels)))
	}
	s.respond(log, conn, resp)
}

// handleGolden answers every failure with an error-tagged result instead of
// dropping the connection.
func (s *Server) handleGolden(ctx context.Context, log *zap.Logger, conn net.Conn, req wire.Request) {
	if !req.HasDecisionFields() {
		s.respond(log, conn, wire.GoldenResult{Type: wire.TypeGoldenResult, Error: "missing observation or legal_actions"})
		return
	}
	res, err := s.decide(ctx, log, req)
	if err != nil {
		log.Warn("golden test failed", zap.Error(err))
		s.respond(log, conn, wire.GoldenResult{Type: wire.TypeGoldenResult, Error: err.Error()})
		return
	}
	action := res.Action
	if req.ExpectedAction != nil && *req.ExpectedAction != action {
		log.Warn("golden test action differs from expectation",
			zap.Int("action", action),
			zap.Int("expected", *req.ExpectedAction),
		)
	}
	s.respond(log, conn, wire.GoldenResult{Type: wire.TypeGoldenResult, Action: &action})
}

// decide runs the decision detached from ctx so shutdown never interrupts a
// request that has already been read.
func (s *Server) decide(ctx context.Context, log *zap.Logger, req wire.Request) (inference.Result, error) {
	obs, err := req.Observation.Ints()
	if err != nil {
		return inference.Result{}, &wire.DecodeError{Err: fmt.Errorf("observation: %w", err)}
	}
	return s.decider.Decide(context.WithoutCancel(ctx), obs, req.LegalActions.Floats(), inference.Options{
		VerboseMask: s.session.VerboseMask(),
		Logger:      log,
	})
}

func (s *Server) respond(log *zap.Logger, conn net.Conn, v any) {
	if err := wire.Encode(conn, v); err != nil {
		log.Warn("send response failed", zap.Error(err))
	}
}

// #endregion handle

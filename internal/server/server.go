// Package server exposes sessions over a websocket endpoint.
//
// A client connects to /ws, sends a session.start control message, then
// streams binary PCM frames. Control messages are JSON text frames; all audio
// is binary. Outbound traffic is the session's ordered event stream, written
// as JSON envelopes by the per-connection sink.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/loqua-ai/loqua/internal/config"
	"github.com/loqua-ai/loqua/internal/event"
	"github.com/loqua-ai/loqua/internal/session"
)

// maxMessageBytes bounds any single inbound websocket message.
const maxMessageBytes = 1 << 20

// Factory builds the orchestrator for a freshly accepted session, bound to
// the connection's outbound sink.
type Factory func(sessionID, language string, sink event.Sink) (*session.Orchestrator, error)

// Config assembles a Server.
type Config struct {
	// Registry tracks live sessions.
	Registry *session.Registry

	// Factory constructs per-session orchestrators.
	Factory Factory

	// Conf supplies audio format limits.
	Conf *config.Config

	// DrainTimeout bounds how long session.end waits for the event queue to
	// flush. Default: 5s.
	DrainTimeout time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Server is the websocket gateway.
type Server struct {
	registry *session.Registry
	factory  Factory
	conf     *config.Config
	drain    time.Duration
	logger   *slog.Logger

	minFrameBytes int
}

// New constructs a Server.
func New(cfg Config) (*Server, error) {
	if cfg.Registry == nil || cfg.Factory == nil {
		return nil, fmt.Errorf("server: Registry and Factory are required")
	}
	if cfg.Conf == nil {
		cfg.Conf = config.Default()
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	// 16-bit mono PCM: bytes per millisecond is sample rate / 500.
	minFrameBytes := cfg.Conf.Audio.SampleRate * 2 * cfg.Conf.Audio.MinFrameMs / 1000
	return &Server{
		registry:      cfg.Registry,
		factory:       cfg.Factory,
		conf:          cfg.Conf,
		drain:         cfg.DrainTimeout,
		logger:        cfg.Logger,
		minFrameBytes: minFrameBytes,
	}, nil
}

// Handler returns the /ws endpoint handler.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleWS)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept", "error", err)
		return
	}
	conn.SetReadLimit(maxMessageBytes)

	cs := &connSession{server: s, conn: conn}
	defer cs.teardown()

	ctx := r.Context()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				return
			}
			if cs.orch != nil {
				s.logger.Warn("transport lost", "session_id", cs.orch.ID(), "code", event.CodeTransportLost, "error", err)
			}
			return
		}

		switch typ {
		case websocket.MessageBinary:
			cs.handleAudio(ctx, data)
		case websocket.MessageText:
			if cs.handleControl(ctx, data) {
				return
			}
		}
	}
}

// controlMessage is the inbound JSON control frame.
type controlMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Language  string `json:"language"`
}

// connSession is the per-connection state of the gateway.
type connSession struct {
	server *Server
	conn   *websocket.Conn
	orch   *session.Orchestrator
	ended  bool
}

// handleControl processes one control frame. It reports whether the
// connection should be closed.
func (cs *connSession) handleControl(ctx context.Context, data []byte) (done bool) {
	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		cs.sendError(ctx, event.CodeValidation, "malformed control message")
		return false
	}

	switch msg.Type {
	case "session.start":
		cs.startSession(ctx, msg)
		return false

	case "session.end":
		// Ending is idempotent: with no active session (never started, or
		// already ended) the request is a silent no-op.
		if cs.orch != nil {
			cs.endSession()
		}
		_ = cs.conn.Close(websocket.StatusNormalClosure, "session ended")
		return true

	case "heartbeat":
		if cs.orch != nil {
			cs.orch.Heartbeat()
			return false
		}
		cs.send(ctx, event.New(event.TypePong, "", nil))
		return false

	default:
		cs.sendError(ctx, event.CodeValidation, fmt.Sprintf("unknown control type %q", msg.Type))
		return false
	}
}

func (cs *connSession) startSession(ctx context.Context, msg controlMessage) {
	if cs.orch != nil {
		cs.sendError(ctx, event.CodeValidation, "session already started on this connection")
		return
	}
	if len(msg.SessionID) != 36 {
		cs.sendError(ctx, event.CodeValidation, "sessionId must be a canonical UUID")
		return
	}
	if _, err := uuid.Parse(msg.SessionID); err != nil {
		cs.sendError(ctx, event.CodeValidation, "sessionId must be a canonical UUID")
		return
	}

	sink := &wsSink{conn: cs.conn, timeout: 5 * time.Second}
	orch, err := cs.server.registry.Start(msg.SessionID, func() (*session.Orchestrator, error) {
		return cs.server.factory(msg.SessionID, msg.Language, sink)
	})
	switch {
	case errors.Is(err, session.ErrAlreadyExists):
		cs.sendError(ctx, event.CodeValidation, "session already exists")
		return
	case errors.Is(err, session.ErrCapacity):
		cs.sendError(ctx, event.CodeInternal, "session capacity reached")
		return
	case err != nil:
		cs.server.logger.Error("start session", "session_id", msg.SessionID, "error", err)
		cs.sendError(ctx, event.CodeInternal, "failed to start session")
		return
	}
	cs.orch = orch

	// When the session dies on its own (fatal error, idle sweep), close the
	// connection so the client's read loop observes the end promptly.
	go func() {
		<-orch.Done()
		_ = cs.conn.Close(websocket.StatusNormalClosure, "session ended")
	}()
}

func (cs *connSession) handleAudio(ctx context.Context, frame []byte) {
	if cs.orch == nil {
		cs.sendError(ctx, event.CodeSessionNotInitialized, "send session.start before audio")
		return
	}
	if len(frame) > cs.server.conf.Audio.MaxFrameBytes {
		cs.sendError(ctx, event.CodeValidation,
			fmt.Sprintf("frame of %d bytes exceeds the %d byte limit", len(frame), cs.server.conf.Audio.MaxFrameBytes))
		return
	}
	if len(frame) < cs.server.minFrameBytes {
		cs.sendError(ctx, event.CodeValidation,
			fmt.Sprintf("frame of %d bytes is below the %d byte minimum", len(frame), cs.server.minFrameBytes))
		return
	}

	switch err := cs.orch.FeedFrame(frame); {
	case errors.Is(err, session.ErrIngestOverrun):
		// The session has emitted INGEST_OVERRUN and is closing itself.
		cs.server.logger.Warn("ingest overrun", "session_id", cs.orch.ID())
	case errors.Is(err, session.ErrClosed):
	case err != nil:
		cs.server.logger.Warn("feed frame", "session_id", cs.orch.ID(), "error", err)
	}
}

// endSession removes the session from the registry and waits for its event
// queue to drain to this connection.
func (cs *connSession) endSession() {
	if cs.orch == nil || cs.ended {
		return
	}
	cs.ended = true

	ctx, cancel := context.WithTimeout(context.Background(), cs.server.drain)
	defer cancel()
	if err := cs.server.registry.End(ctx, cs.orch.ID()); err != nil && !errors.Is(err, session.ErrNotFound) {
		cs.server.logger.Warn("end session", "session_id", cs.orch.ID(), "error", err)
	}
}

// teardown runs when the read loop exits for any reason.
func (cs *connSession) teardown() {
	cs.endSession()
	_ = cs.conn.Close(websocket.StatusNormalClosure, "")
}

// send writes an event envelope directly, outside the session's event queue.
// Used for connection-level errors before or beside an active session.
func (cs *connSession) send(ctx context.Context, ev event.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		cs.server.logger.Error("marshal event", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cs.conn.Write(ctx, websocket.MessageText, data); err != nil {
		cs.server.logger.Debug("write event", "error", err)
	}
}

func (cs *connSession) sendError(ctx context.Context, code, msg string) {
	id := ""
	if cs.orch != nil {
		id = cs.orch.ID()
	}
	cs.send(ctx, event.New(event.TypeError, id, event.ErrorPayload{Code: code, Message: msg}))
}

// wsSink adapts the websocket connection to the event bus sink contract.
type wsSink struct {
	conn    *websocket.Conn
	timeout time.Duration
}

var _ event.Sink = (*wsSink)(nil)

// Send writes one serialized event as a text frame, bounded by the write
// timeout so a stalled client cannot wedge the session's delivery loop.
func (w *wsSink) Send(ctx context.Context, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	if err := w.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("server: write event: %w", err)
	}
	return nil
}

// Package session implements the per-session orchestration core and the
// process-wide session registry and supervisor.
//
// Each session runs as a single-writer state machine: one goroutine owns all
// session state and consumes inbound audio frames, transcriber results, and
// generator tokens from bounded queues in arrival order. Nothing outside that
// goroutine mutates session state; external callers interact through
// [Orchestrator.FeedFrame], [Orchestrator.Heartbeat], [Orchestrator.Close],
// and snapshot accessors.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqua-ai/loqua/internal/config"
	"github.com/loqua-ai/loqua/internal/event"
	"github.com/loqua-ai/loqua/internal/observe"
	"github.com/loqua-ai/loqua/internal/pause"
	"github.com/loqua-ai/loqua/internal/resilience"
	"github.com/loqua-ai/loqua/internal/transcript"
	"github.com/loqua-ai/loqua/pkg/provider/llm"
	"github.com/loqua-ai/loqua/pkg/provider/stt"
	"github.com/loqua-ai/loqua/pkg/provider/vad"
	"github.com/loqua-ai/loqua/pkg/types"
)

// State is the session lifecycle state.
type State string

const (
	StateIdle           State = "idle"
	StateListening      State = "listening"
	StateUserSpeaking   State = "user_speaking"
	StateAwaitingCommit State = "awaiting_commit"
	StateAIResponding   State = "ai_responding"
	StateClosed         State = "closed"
)

// Errors returned by Orchestrator entry points.
var (
	ErrClosed        = errors.New("session: closed")
	ErrIngestOverrun = errors.New("session: audio ingest overrun")
)

// msgKind tags messages delivered to the orchestration goroutine.
type msgKind uint8

const (
	msgSTTReady msgKind = iota
	msgSTTFailed
	msgSTTDown
	msgSTTPartial
	msgSTTFinal
	msgGenChunk
	msgGenClosed
	msgGenErr
	msgDetachTimeout
)

// message is the single tagged envelope for everything the pipeline feeds
// back into the orchestration goroutine. seq carries the generation sequence
// for generator messages and the stream epoch for transcriber messages, so
// stale messages from cancelled work are recognised and dropped.
type message struct {
	kind       msgKind
	seq        uint64
	transcript types.Transcript
	chunk      llm.Chunk
	handle     stt.SessionHandle
	err        error
}

// generation tracks the single in-flight response stream, if any.
type generation struct {
	seq       uint64
	cancel    context.CancelFunc
	span      trace.Span
	committed bool // first token seen, turn archived
	text      string
	startedAt time.Time
}

// cancelWatch tracks an interrupted stream racing its cancellation budget.
type cancelWatch struct {
	seq   uint64
	at    time.Time
	timer *time.Timer
}

// Config assembles everything an Orchestrator needs.
type Config struct {
	// SessionID is the validated canonical session identifier.
	SessionID string

	// Language is the optional recognition language hint from session.start.
	Language string

	// SystemPrompt is injected into every generation request. May be empty.
	SystemPrompt string

	// Sink is the outbound half of the client channel.
	Sink event.Sink

	// VAD creates the per-session voice activity detector.
	VAD vad.Engine

	// STT is the streaming transcription backend.
	STT stt.Provider

	// LLM is the response generator backend.
	LLM llm.Provider

	// Conf supplies the tuning knobs (pause, barge-in, queues, audio format).
	Conf *config.Config

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics defaults to observe.DefaultMetrics().
	Metrics *observe.Metrics
}

// Orchestrator owns one session end to end: its state machine, transcript
// buffers, commit policy, response stream, and event emission.
type Orchestrator struct {
	id           string
	language     string
	systemPrompt string
	conf         *config.Config
	logger       *slog.Logger
	metrics      *observe.Metrics

	bus    *event.Bus
	vad    vad.SessionHandle
	sttNew stt.Provider
	llm    llm.Provider

	buffer   *transcript.Buffer
	pauseCfg pause.Config

	frames chan []byte
	inbox  chan message

	ctx    context.Context
	cancel context.CancelFunc

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}

	// Owned by the run goroutine.
	gen         *generation
	genSeq      uint64
	canceling   *cancelWatch
	sttSess     stt.SessionHandle
	sttEpoch    uint64
	committedAt time.Time

	state        atomic.Value // State
	lastActivity atomic.Int64 // unix nanos
	createdAt    time.Time
}

// New constructs an Orchestrator in the Idle state. Call [Orchestrator.Start]
// to begin processing.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.SessionID == "" {
		return nil, fmt.Errorf("session: SessionID must not be empty")
	}
	if cfg.Sink == nil || cfg.VAD == nil || cfg.STT == nil || cfg.LLM == nil {
		return nil, fmt.Errorf("session: Sink, VAD, STT, and LLM are all required")
	}
	if cfg.Conf == nil {
		cfg.Conf = config.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}

	vadSess, err := cfg.VAD.NewSession(vad.Config{
		SampleRate:        cfg.Conf.Audio.SampleRate,
		EnterThreshold:    cfg.Conf.VAD.EnterThreshold,
		ExitThreshold:     cfg.Conf.VAD.ExitThreshold,
		MinSpeechDuration: time.Duration(cfg.Conf.VAD.MinSpeechMs) * time.Millisecond,
		HangoverDuration:  time.Duration(cfg.Conf.VAD.HangoverMs) * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("session: create vad session: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	o := &Orchestrator{
		id:           cfg.SessionID,
		language:     cfg.Language,
		systemPrompt: cfg.SystemPrompt,
		conf:         cfg.Conf,
		logger:       cfg.Logger.With("session_id", cfg.SessionID),
		metrics:      cfg.Metrics,
		bus: event.NewBus(cfg.Sink, event.BusConfig{
			Capacity: cfg.Conf.EventBus.Capacity,
			Logger:   cfg.Logger,
		}),
		vad:       vadSess,
		sttNew:    cfg.STT,
		llm:       cfg.LLM,
		buffer:    transcript.NewBuffer(),
		pauseCfg:  pause.Config{NaturalGapMax: cfg.Conf.Pause.NaturalGap(), EndOfThoughtMin: cfg.Conf.Pause.EndOfThought()},
		frames:    make(chan []byte, cfg.Conf.AudioIngest.Capacity),
		inbox:     make(chan message, 256),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		createdAt: time.Now(),
	}
	o.state.Store(StateIdle)
	o.touch()
	return o, nil
}

// ID returns the session identifier.
func (o *Orchestrator) ID() string { return o.id }

// State returns a snapshot of the current lifecycle state.
func (o *Orchestrator) State() State { return o.state.Load().(State) }

// LastActivity returns the time of the most recent client interaction.
func (o *Orchestrator) LastActivity() time.Time {
	return time.Unix(0, o.lastActivity.Load())
}

// Done is closed once the session has fully shut down and all events have
// been drained to the sink.
func (o *Orchestrator) Done() <-chan struct{} { return o.done }

// Start launches the orchestration goroutine. Safe to call more than once.
func (o *Orchestrator) Start() {
	o.startOnce.Do(func() {
		go o.run()
	})
}

// Close requests shutdown. It is idempotent and returns immediately; wait on
// [Orchestrator.Done] for the session to finish draining.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(o.cancel)
}

// FeedFrame submits one inbound audio frame. It blocks for at most the
// configured overrun timeout when the ingest queue is full; past that the
// session emits an INGEST_OVERRUN error and closes.
func (o *Orchestrator) FeedFrame(frame []byte) error {
	select {
	case o.frames <- frame:
		return nil
	case <-o.ctx.Done():
		return ErrClosed
	default:
	}

	timer := time.NewTimer(o.conf.AudioIngest.OverrunTimeout())
	defer timer.Stop()
	select {
	case o.frames <- frame:
		return nil
	case <-o.ctx.Done():
		return ErrClosed
	case <-timer.C:
		o.publishError(event.CodeIngestOverrun, "audio ingest queue saturated")
		o.Close()
		return ErrIngestOverrun
	}
}

// Heartbeat answers a client heartbeat: refreshes the activity clock and
// emits a pong event.
func (o *Orchestrator) Heartbeat() {
	o.touch()
	_ = o.bus.Publish(event.New(event.TypePong, o.id, nil))
}

func (o *Orchestrator) touch() {
	o.lastActivity.Store(time.Now().UnixNano())
}

func (o *Orchestrator) publish(t event.Type, payload any) {
	_ = o.bus.Publish(event.New(t, o.id, payload))
}

func (o *Orchestrator) publishError(code, msg string) {
	o.metrics.RecordSessionError(o.ctx, code)
	_ = o.bus.Publish(event.New(event.TypeError, o.id, event.ErrorPayload{Code: code, Message: msg}))
}

// post delivers a pipeline message to the run loop, giving up when the
// session shuts down first.
func (o *Orchestrator) post(m message) {
	select {
	case o.inbox <- m:
	case <-o.ctx.Done():
	}
}

// run is the single-writer orchestration loop.
func (o *Orchestrator) run() {
	defer o.finalize()

	o.setState(StateListening)
	o.publish(event.TypeSessionReady, nil)
	o.metrics.ActiveSessions.Add(o.ctx, 1)
	o.startSTT()

	for {
		select {
		case <-o.ctx.Done():
			return

		case err := <-o.bus.Failed():
			o.logger.Warn("client channel lost", "error", err)
			return

		case frame := <-o.frames:
			o.handleFrame(frame)

		case m := <-o.inbox:
			o.handleMessage(m)
		}
	}
}

// finalize tears the session down: cancels in-flight work, closes providers,
// announces the end to the client, and drains the event bus.
func (o *Orchestrator) finalize() {
	o.Close()

	if o.gen != nil {
		o.gen.cancel()
		o.gen.span.End()
		o.gen = nil
	}
	if o.canceling != nil {
		o.canceling.timer.Stop()
		o.canceling = nil
	}
	if o.sttSess != nil {
		if err := o.sttSess.Close(); err != nil {
			o.logger.Debug("stt session close", "error", err)
		}
		o.sttSess = nil
	}
	if err := o.vad.Close(); err != nil {
		o.logger.Debug("vad session close", "error", err)
	}

	o.setState(StateClosed)
	o.publish(event.TypeSessionEnded, nil)
	o.bus.Close()
	if n := o.bus.Coalesced(); n > 0 {
		o.metrics.EventsCoalesced.Add(context.Background(), n)
	}
	o.metrics.ActiveSessions.Add(context.Background(), -1)
	o.logger.Info("session closed", "uptime", time.Since(o.createdAt))
	close(o.done)
}

func (o *Orchestrator) setState(s State) {
	o.state.Store(s)
}

// --- Audio path ---

func (o *Orchestrator) handleFrame(frame []byte) {
	o.touch()
	o.metrics.AudioFrames.Add(o.ctx, 1)

	// Fan out to the transcriber first so recognition latency is not gated
	// on VAD bookkeeping.
	if o.sttSess != nil {
		if err := o.sttSess.SendAudio(frame); err != nil {
			o.logger.Debug("stt send audio", "error", err)
		}
	}

	ev, err := o.vad.ProcessFrame(frame)
	if err != nil {
		o.logger.Error("vad failed", "error", err)
		o.publishError(event.CodeVADFailed, "voice activity detection failed")
		o.Close()
		return
	}
	o.metrics.RecordVADEvent(o.ctx, ev.Type.String())
	o.handleVADEvent(ev)
}

func (o *Orchestrator) handleVADEvent(ev vad.Event) {
	switch ev.Type {
	case vad.SpeechStart:
		o.handleSpeechStart()

	case vad.SpeechEnd, vad.Silence:
		// Silence only drives the commit decision while a turn is open.
		if o.State() != StateUserSpeaking {
			return
		}
		view := o.buffer.View()
		cls := pause.Classify(ev.Silence, view.HasText(), view.HasAnyText(), o.pauseCfg)
		if cls.ShouldCommit {
			o.commit(cls)
		}
	}
}

func (o *Orchestrator) handleSpeechStart() {
	switch o.State() {
	case StateListening:
		o.setState(StateUserSpeaking)

	case StateAwaitingCommit:
		// The user resumed before the generator produced its first token:
		// the commit is cancelled silently and the turn continues.
		if o.gen != nil {
			o.gen.cancel()
			o.gen.span.End()
			o.gen = nil
		}
		o.setState(StateUserSpeaking)

	case StateAIResponding:
		o.bargeIn()
	}
}

// bargeIn cancels the active response stream and returns the floor to the
// user. Tokens still buffered from the cancelled stream carry a stale
// sequence number and are dropped on arrival.
func (o *Orchestrator) bargeIn() {
	g := o.gen
	o.gen = nil

	g.cancel()
	o.metrics.BargeIns.Add(o.ctx, 1)
	o.publish(event.TypeInterrupted, nil)

	// The client has already heard the partial reply; keep it as context.
	o.buffer.RecordAssistant(g.text)
	g.span.SetAttributes(observe.Attr("outcome", "interrupted"))
	g.span.End()

	watch := &cancelWatch{seq: g.seq, at: time.Now()}
	watch.timer = time.AfterFunc(o.conf.BargeIn.CancelBudget(), func() {
		o.post(message{kind: msgDetachTimeout, seq: g.seq})
	})
	o.canceling = watch

	o.setState(StateUserSpeaking)
	o.logger.Debug("barge-in", "generation", g.seq, "partial_len", len(g.text))
}

// --- Commit and generation ---

func (o *Orchestrator) commit(cls pause.Classification) {
	o.setState(StateAwaitingCommit)
	o.publish(event.TypeThinking, nil)
	o.metrics.RecordCommit(o.ctx, string(cls.Type))
	o.committedAt = time.Now()

	o.genSeq++
	genCtx, cancel := context.WithCancel(o.ctx)
	genCtx, span := observe.StartSpan(genCtx, "session.generation",
		trace.WithAttributes(
			observe.Attr("session_id", o.id),
			observe.Attr("pause", string(cls.Type)),
		),
	)

	g := &generation{
		seq:       o.genSeq,
		cancel:    cancel,
		span:      span,
		startedAt: time.Now(),
	}
	o.gen = g

	userText := o.buffer.View().Full()
	req := llm.CompletionRequest{
		SystemPrompt: o.systemPrompt,
		Messages:     append(o.buffer.History(), types.Message{Role: "user", Content: userText}),
	}

	o.logger.Debug("turn committed",
		"pause", cls.Type, "silence", cls.Duration, "generation", g.seq)

	go o.pumpGeneration(genCtx, g.seq, req)
}

// pumpGeneration forwards the provider's chunk stream into the inbox.
func (o *Orchestrator) pumpGeneration(ctx context.Context, seq uint64, req llm.CompletionRequest) {
	ch, err := o.llm.StreamCompletion(ctx, req)
	if err != nil {
		o.post(message{kind: msgGenErr, seq: seq, err: err})
		return
	}
	for chunk := range ch {
		if chunk.FinishReason == "error" {
			o.post(message{kind: msgGenErr, seq: seq, err: errors.New(chunk.Text)})
			return
		}
		o.post(message{kind: msgGenChunk, seq: seq, chunk: chunk})
	}
	o.post(message{kind: msgGenClosed, seq: seq})
}

// --- Transcriber path ---

// startSTT opens the transcription stream in the background, retrying
// transient failures with exponential backoff. The run loop keeps serving
// audio and VAD in the meantime.
func (o *Orchestrator) startSTT() {
	o.sttEpoch++
	epoch := o.sttEpoch

	cfg := stt.StreamConfig{
		SampleRate: o.conf.Audio.SampleRate,
		Channels:   1,
		Language:   o.language,
	}

	go func() {
		var handle stt.SessionHandle
		err := resilience.Retry(o.ctx, resilience.RetryConfig{
			MaxRetries:     o.conf.Transcriber.MaxRetries,
			InitialBackoff: o.conf.Transcriber.BackoffInitial(),
		}, func(ctx context.Context) error {
			var startErr error
			handle, startErr = o.sttNew.StartStream(ctx, cfg)
			if startErr != nil {
				o.metrics.RecordSTTRestart(ctx, "error")
			}
			return startErr
		})
		if err != nil {
			o.post(message{kind: msgSTTFailed, seq: epoch, err: err})
			return
		}
		o.metrics.RecordSTTRestart(o.ctx, "ok")
		o.post(message{kind: msgSTTReady, seq: epoch, handle: handle})
	}()
}

// pumpTranscripts forwards partial and final transcripts into the inbox.
// When the finals channel closes while the session is still alive, the
// stream is reported down so the run loop can restart it.
func (o *Orchestrator) pumpTranscripts(handle stt.SessionHandle, epoch uint64) {
	go func() {
		for t := range handle.Partials() {
			o.post(message{kind: msgSTTPartial, seq: epoch, transcript: t})
		}
	}()
	go func() {
		for t := range handle.Finals() {
			o.post(message{kind: msgSTTFinal, seq: epoch, transcript: t})
		}
		o.post(message{kind: msgSTTDown, seq: epoch})
	}()
}

// --- Inbox dispatch ---

func (o *Orchestrator) handleMessage(m message) {
	switch m.kind {
	case msgSTTReady:
		if m.seq != o.sttEpoch {
			_ = m.handle.Close()
			return
		}
		o.sttSess = m.handle
		o.pumpTranscripts(m.handle, m.seq)
		o.logger.Debug("transcription stream ready", "epoch", m.seq)

	case msgSTTFailed:
		if m.seq != o.sttEpoch {
			return
		}
		o.logger.Warn("transcription unavailable", "error", m.err)
		o.publishError(event.CodeSTTUnavailable, "transcription unavailable after retries")

	case msgSTTDown:
		if m.seq != o.sttEpoch {
			return
		}
		o.logger.Warn("transcription stream lost, restarting", "epoch", m.seq)
		if o.sttSess != nil {
			_ = o.sttSess.Close()
			o.sttSess = nil
		}
		o.startSTT()

	case msgSTTPartial:
		if m.seq != o.sttEpoch {
			return
		}
		o.touch()
		o.buffer.UpdateLive(m.transcript.Text)
		o.publish(event.TypePartial, event.TranscriptPayload{
			Text:       m.transcript.Text,
			Confidence: m.transcript.Confidence,
		})

	case msgSTTFinal:
		if m.seq != o.sttEpoch {
			return
		}
		o.touch()
		o.buffer.ConfirmFinal(m.transcript)
		o.publish(event.TypeFinal, event.TranscriptPayload{
			Text:       m.transcript.Text,
			Confidence: m.transcript.Confidence,
			IsFinal:    true,
		})

	case msgGenChunk:
		o.handleGenChunk(m)

	case msgGenClosed:
		o.handleGenClosed(m)

	case msgGenErr:
		o.handleGenErr(m)

	case msgDetachTimeout:
		if o.canceling == nil || o.canceling.seq != m.seq {
			return
		}
		o.canceling = nil
		o.metrics.ForcedDetaches.Add(o.ctx, 1)
		o.logger.Warn("cancelled stream exceeded barge-in budget, detached", "generation", m.seq)
	}
}

func (o *Orchestrator) handleGenChunk(m message) {
	if o.gen == nil || m.seq != o.gen.seq {
		return // stale token from a cancelled stream
	}

	if !o.gen.committed {
		// First token: the commit becomes irrevocable, the turn is archived.
		o.gen.committed = true
		o.buffer.ArchiveTurn()
		o.setState(StateAIResponding)
		o.metrics.FirstTokenLatency.Record(o.ctx, time.Since(o.committedAt).Seconds())
	}

	if m.chunk.Text == "" {
		return
	}
	o.gen.text += m.chunk.Text
	o.publish(event.TypeDelta, event.TextPayload{Text: m.chunk.Text})
}

func (o *Orchestrator) handleGenClosed(m message) {
	if o.canceling != nil && o.canceling.seq == m.seq {
		// The interrupted stream terminated inside the cancellation budget.
		o.canceling.timer.Stop()
		o.metrics.BargeInCancelLatency.Record(o.ctx, time.Since(o.canceling.at).Seconds())
		o.canceling = nil
		return
	}
	if o.gen == nil || m.seq != o.gen.seq {
		return
	}

	g := o.gen
	o.gen = nil
	g.cancel()

	if !g.committed {
		// Stream ended without producing anything; treat as a failure so the
		// turn is not silently swallowed.
		o.buffer.ArchiveTurn()
		o.publishError(event.CodeAIUnavailable, "generator produced no response")
		g.span.SetAttributes(observe.Attr("outcome", "empty"))
		g.span.End()
		o.setState(StateListening)
		return
	}

	o.publish(event.TypeDone, event.TextPayload{Text: g.text})
	o.buffer.RecordAssistant(g.text)
	o.metrics.GenerationDuration.Record(o.ctx, time.Since(g.startedAt).Seconds(),
		metric.WithAttributes(observe.Attr("outcome", "done")))
	g.span.SetAttributes(observe.Attr("outcome", "done"))
	g.span.End()
	o.setState(StateListening)
	o.logger.Debug("generation done", "generation", g.seq, "len", len(g.text))
}

func (o *Orchestrator) handleGenErr(m message) {
	if o.gen == nil || m.seq != o.gen.seq {
		return
	}

	g := o.gen
	o.gen = nil
	g.cancel()

	// The turn is consumed either way so silence does not re-trigger the
	// same failing commit.
	o.buffer.ArchiveTurn()

	o.logger.Warn("generation failed", "generation", g.seq, "error", m.err)
	o.publishError(event.CodeAIUnavailable, "response generation failed")
	g.span.SetAttributes(observe.Attr("outcome", "error"))
	g.span.End()
	o.setState(StateListening)
}

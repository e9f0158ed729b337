// Package deepgram implements stt.Provider against the Deepgram streaming
// WebSocket API.
//
// Deepgram's interim results map directly onto the session's transcript
// buffers: messages with is_final=false feed the volatile buffer, is_final
// results feed the committed buffer. Turn segmentation is done locally by the
// session's pause classifier, so the adapter only relays what the service
// reports.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/coder/websocket"

	"github.com/loqua-ai/loqua/pkg/provider/stt"
	"github.com/loqua-ai/loqua/pkg/types"
)

const (
	listenEndpoint    = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000

	// transcriptBuffer sizes the partial and final channels. The session
	// drains these promptly; the buffer only absorbs scheduling jitter.
	transcriptBuffer = 64

	// audioBuffer sizes the outbound PCM queue ahead of the write loop.
	audioBuffer = 256
)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model (e.g. "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the BCP-47 language code used when StreamConfig carries
// no language hint.
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithSampleRate sets the provider-level default sample rate in Hz.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.sampleRate = rate }
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey     string
	model      string
	language   string
	sampleRate int
}

var _ stt.Provider = (*Provider)(nil)

// New creates a Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream dials the listen endpoint and returns a live session handle.
// Stream parameters fall back to provider defaults when cfg leaves them zero.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	wsURL, err := p.listenURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	sess := &session{
		conn:     conn,
		language: cfg.Language,
		partials: make(chan types.Transcript, transcriptBuffer),
		finals:   make(chan types.Transcript, transcriptBuffer),
		audio:    make(chan []byte, audioBuffer),
		done:     make(chan struct{}),
	}

	sess.wg.Add(2)
	go sess.readLoop(ctx)
	go sess.writeLoop(ctx)

	return sess, nil
}

// listenURL builds the streaming endpoint URL for the given config.
func (p *Provider) listenURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(listenEndpoint)
	if err != nil {
		return "", err
	}
	u.RawQuery = p.queryParams(cfg).Encode()
	return u.String(), nil
}

// queryParams resolves the stream parameters, falling back to the provider
// defaults for anything cfg leaves unset.
func (p *Provider) queryParams(cfg stt.StreamConfig) url.Values {
	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = p.sampleRate
	}

	q := url.Values{}
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sr))
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}
	return q
}

// resultsEvent is the subset of Deepgram's Results message the adapter needs.
type resultsEvent struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// session is a live Deepgram stream. It implements stt.SessionHandle.
type session struct {
	conn     *websocket.Conn
	language string
	partials chan types.Transcript
	finals   chan types.Transcript
	audio    chan []byte

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// SendAudio queues a PCM chunk for delivery. It fails once the session is
// closed rather than blocking forever on a dead write loop.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errors.New("deepgram: session is closed")
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return errors.New("deepgram: session is closed")
	}
}

// Partials returns the channel of interim transcripts.
func (s *session) Partials() <-chan types.Transcript { return s.partials }

// Finals returns the channel of final transcripts.
func (s *session) Finals() <-chan types.Transcript { return s.finals }

// Close terminates the session. It asks the service to flush pending audio,
// waits for both loops to exit, then closes the socket. Both transcript
// channels are closed by the read loop on its way out.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Write(context.Background(), websocket.MessageText, []byte(`{"type":"CloseStream"}`))
		s.wg.Wait()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

// writeLoop forwards queued PCM to the socket as binary messages.
func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk, ok := <-s.audio:
			if !ok {
				return
			}
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-s.done:
			// Flush whatever is already queued before exiting.
			for {
				select {
				case chunk, ok := <-s.audio:
					if !ok {
						return
					}
					_ = s.conn.Write(ctx, websocket.MessageBinary, chunk)
				default:
					return
				}
			}
		}
	}
}

// readLoop receives service messages and dispatches transcripts. Channel
// closure here is the signal the session layer uses to detect a lost stream.
func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			return
		}

		t, ok := parseResults(msg)
		if !ok {
			continue
		}
		t.Language = s.language

		out := s.partials
		if t.IsFinal {
			out = s.finals
		}
		select {
		case out <- t:
		case <-s.done:
		}
	}
}

// parseResults extracts a Transcript from a raw service message. Non-Results
// messages (Metadata, UtteranceEnd, SpeechStarted) and silence-only results
// are skipped.
func parseResults(data []byte) (types.Transcript, bool) {
	var ev resultsEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return types.Transcript{}, false
	}
	if ev.Type != "Results" || len(ev.Channel.Alternatives) == 0 {
		return types.Transcript{}, false
	}

	alt := ev.Channel.Alternatives[0]
	if alt.Transcript == "" {
		return types.Transcript{}, false
	}

	return types.Transcript{
		Text:       alt.Transcript,
		IsFinal:    ev.IsFinal,
		Confidence: alt.Confidence,
	}, true
}

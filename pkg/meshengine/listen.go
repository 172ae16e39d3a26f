package meshengine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"

	"github.com/sudorandom/meshtel-viewer/pkg/clock"
	"github.com/sudorandom/meshtel-viewer/pkg/utils"
)

const (
	ReconnectDelay = 5 * time.Second
	ConnectTimeout = 5 * time.Second
	readChunkSize  = 16 * 1024
)

var errStreamClosed = errors.New("stream closed by server")

// ChunkStream yields raw chunks of the event stream.
type ChunkStream interface {
	Recv() ([]byte, error)
	Close() error
}

// StreamOpener establishes one connection to the event stream.
type StreamOpener interface {
	Open(ctx context.Context) (ChunkStream, error)
}

// SSEOpener opens {base}/sse as a text/event-stream over HTTP.
type SSEOpener struct {
	URL       string
	Client    *http.Client
	UserAgent string
}

func NewSSEOpener(url string) *SSEOpener {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: ConnectTimeout}).DialContext,
		TLSHandshakeTimeout: ConnectTimeout,
	}
	return &SSEOpener{
		URL:       url,
		Client:    &http.Client{Transport: transport},
		UserAgent: utils.DefaultUserAgent,
	}
}

func (o *SSEOpener) String() string { return o.URL }

func (o *SSEOpener) Open(ctx context.Context) (ChunkStream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.URL, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if o.UserAgent != "" {
		req.Header.Set("User-Agent", o.UserAgent)
	}
	client := o.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("bad status: %s", resp.Status)
	}
	return &sseStream{body: resp.Body, buf: make([]byte, readChunkSize)}, nil
}

type sseStream struct {
	body io.ReadCloser
	buf  []byte
}

func (s *sseStream) Recv() ([]byte, error) {
	n, err := s.body.Read(s.buf)
	if n > 0 {
		return s.buf[:n], nil
	}
	if err == nil {
		return nil, nil
	}
	return nil, err
}

func (s *sseStream) Close() error { return s.body.Close() }

// WebSocketOpener reads events from a websocket endpoint. Every text message
// carries one event and is framed as a `data: ` line.
type WebSocketOpener struct {
	URL    string
	Dialer *websocket.Dialer
	Header http.Header
}

func NewWebSocketOpener(url string) *WebSocketOpener {
	return &WebSocketOpener{
		URL: url,
		Dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: ConnectTimeout,
		},
		Header: http.Header{"User-Agent": []string{utils.DefaultUserAgent}},
	}
}

func (o *WebSocketOpener) String() string { return o.URL }

func (o *WebSocketOpener) Open(ctx context.Context) (ChunkStream, error) {
	dialer := o.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	c, resp, err := dialer.DialContext(ctx, o.URL, o.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &wsStream{conn: c}, nil
}

type wsStream struct {
	conn *websocket.Conn
}

func (s *wsStream) Recv() ([]byte, error) {
	for {
		kind, message, err := s.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind != websocket.TextMessage {
			continue
		}
		chunk := make([]byte, 0, len(dataPrefix)+len(message)+1)
		chunk = append(chunk, dataPrefix...)
		chunk = append(chunk, message...)
		return append(chunk, '\n'), nil
	}
}

func (s *wsStream) Close() error { return s.conn.Close() }

// Streamer keeps the engine connected to the event stream. After any
// termination it waits out the backoff and reconnects, forever.
type Streamer struct {
	Opener  StreamOpener
	Engine  *Engine
	Backoff backoff.BackOff
	Clock   clock.Clock
	Logger  *log.Logger

	framer Framer
}

func NewStreamer(opener StreamOpener, engine *Engine, clk clock.Clock, logger *log.Logger) *Streamer {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Streamer{
		Opener:  opener,
		Engine:  engine,
		Backoff: backoff.NewConstantBackOff(ReconnectDelay),
		Clock:   clk,
		Logger:  logger,
	}
}

// Run connects and streams until ctx is cancelled.
func (s *Streamer) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.Engine.setStreamState(StateConnecting)
		s.Logger.Printf("Connecting to event stream: %v", s.Opener)

		err := s.stream(ctx)
		s.Engine.setStreamState(StateDisconnected)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		wait := s.Backoff.NextBackOff()
		if wait == backoff.Stop {
			wait = ReconnectDelay
		}
		s.Logger.Printf("Stream disconnected: %v. Retrying in %v...", err, wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.Clock.After(wait):
		}
	}
}

func (s *Streamer) stream(ctx context.Context) error {
	st, err := s.Opener.Open(ctx)
	if err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { _ = st.Close() })
	defer func() {
		if stop() {
			if err := st.Close(); err != nil {
				s.Logger.Printf("Error closing stream: %v", err)
			}
		}
	}()

	s.Engine.setStreamState(StateStreaming)
	s.Backoff.Reset()
	s.framer.Reset()
	s.Logger.Printf("Event stream connected")

	for {
		chunk, err := st.Recv()
		if len(chunk) > 0 {
			s.framer.Feed(chunk, s.Engine.HandleEvent)
		}
		if errors.Is(err, io.EOF) {
			return errStreamClosed
		}
		if err != nil {
			return err
		}
	}
}

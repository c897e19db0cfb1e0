package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"voicechat/internal/domain"
	"voicechat/internal/metrics"
	"voicechat/internal/ports"
)

var (
	ErrNotConnected   = errors.New("realtime client is not connected")
	ErrAlreadyStarted = errors.New("realtime client already started")
	ErrClosed         = errors.New("realtime client closed")
)

// Config controls the websocket connection.
type Config struct {
	URL              string
	HandshakeTimeout time.Duration
	SendBuffer       int
	EventBuffer      int
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = "ws://localhost:8000/ws"
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 64
	}
	return c
}

// Factory implements ports.RealtimeClientFactory.
type Factory struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewFactory(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Factory {
	return &Factory{cfg: cfg, logger: logger, metrics: m}
}

func (f *Factory) NewClient() ports.RealtimeClient {
	return NewClient(f.cfg, f.logger, f.metrics)
}

type outboundFrame struct {
	kind  int
	label string
	data  []byte
}

// Client is a one-shot websocket connection to the voice backend. It
// multiplexes JSON control frames and binary audio frames on one socket and
// publishes classified server frames on Events.
type Client struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	stateMu sync.Mutex
	state   domain.ClientState
	conn    *websocket.Conn

	events   chan domain.ClientEvent
	outbound chan outboundFrame
	closing  chan struct{}
	stopped  chan struct{}
	done     chan struct{}

	wg         sync.WaitGroup
	closeOnce  sync.Once
	stopOnce   sync.Once
	finishOnce sync.Once

	errMu sync.Mutex
	err   error
}

func NewClient(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Client {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "realtime")),
		metrics:  m,
		state:    domain.ClientIdle,
		events:   make(chan domain.ClientEvent, cfg.EventBuffer),
		outbound: make(chan outboundFrame, cfg.SendBuffer),
		closing:  make(chan struct{}),
		stopped:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Connect dials the backend and returns once the handshake has completed.
func (c *Client) Connect(ctx context.Context) error {
	c.stateMu.Lock()
	if c.state != domain.ClientIdle {
		state := c.state
		c.stateMu.Unlock()
		return fmt.Errorf("%w: state %s", ErrAlreadyStarted, state)
	}
	c.state = domain.ClientConnecting
	c.stateMu.Unlock()

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		c.setState(domain.ClientClosed)
		c.metrics.Connection("dial_error")
		c.finish()
		return fmt.Errorf("failed to connect to %s: %w", c.cfg.URL, err)
	}

	c.stateMu.Lock()
	select {
	case <-c.closing:
		c.stateMu.Unlock()
		_ = conn.Close()
		c.finish()
		return ErrClosed
	default:
	}
	c.conn = conn
	c.state = domain.ClientOpen
	c.stateMu.Unlock()

	c.metrics.Connection("open")
	c.logger.Info("websocket connected", slog.String("url", c.cfg.URL))

	c.wg.Add(2)
	go c.readLoop(conn)
	go c.writeLoop(conn)
	go func() {
		c.wg.Wait()
		_ = conn.Close()
		c.setState(domain.ClientClosed)
		err := c.waitErr()
		c.metrics.Connection("closed")
		if err != nil {
			c.logger.Warn("websocket closed", slog.String("error", err.Error()))
		} else {
			c.logger.Info("websocket closed")
		}
		c.emit(domain.ClientEvent{Kind: domain.ClientEventClosed, Err: err})
		c.finish()
	}()

	return nil
}

// SendConfig selects the synthesis voice and language.
func (c *Client) SendConfig(voice string, lang string) error {
	payload, err := json.Marshal(configMessage{Type: "config", Voice: voice, Lang: lang})
	if err != nil {
		return err
	}
	return c.send(websocket.TextMessage, "config", payload)
}

// Start asks the backend to treat subsequent audio as a speech segment.
func (c *Client) Start() error {
	return c.sendControl("start")
}

// Stop ends the current speech segment.
func (c *Client) Stop() error {
	return c.sendControl("stop")
}

// SendAudio queues one binary audio frame. Frames are dropped silently when
// the connection is not open.
func (c *Client) SendAudio(frame []byte) error {
	if len(frame) == 0 {
		return nil
	}
	if c.State() != domain.ClientOpen {
		c.metrics.FrameDropped("not_connected")
		return nil
	}

	copied := append([]byte(nil), frame...)
	if err := c.send(websocket.BinaryMessage, "audio", copied); err != nil {
		if errors.Is(err, ErrNotConnected) {
			c.metrics.FrameDropped("not_connected")
			return nil
		}
		return err
	}
	return nil
}

func (c *Client) Events() <-chan domain.ClientEvent {
	return c.events
}

func (c *Client) State() domain.ClientState {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// Close closes the connection. It is safe to call more than once; after it
// returns no further events are delivered.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.stateMu.Lock()
		prev := c.state
		conn := c.conn
		c.state = domain.ClientClosed
		close(c.closing)
		c.stateMu.Unlock()

		if conn == nil {
			if prev != domain.ClientConnecting {
				c.finish()
			}
			return
		}
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		_ = conn.Close()
	})

	c.stateMu.Lock()
	opened := c.conn != nil
	c.stateMu.Unlock()
	if opened {
		<-c.done
	}
	return nil
}

func (c *Client) sendControl(kind string) error {
	payload, err := json.Marshal(controlMessage{Type: kind})
	if err != nil {
		return err
	}
	return c.send(websocket.TextMessage, kind, payload)
}

func (c *Client) send(kind int, label string, data []byte) error {
	if c.State() != domain.ClientOpen {
		return ErrNotConnected
	}
	select {
	case c.outbound <- outboundFrame{kind: kind, label: label, data: data}:
		return nil
	case <-c.closing:
		return ErrNotConnected
	case <-c.stopped:
		return ErrNotConnected
	}
}

func (c *Client) writeLoop(conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		select {
		case frame := <-c.outbound:
			if err := conn.WriteMessage(frame.kind, frame.data); err != nil {
				c.setErr(fmt.Errorf("failed to send %s: %w", frame.label, err))
				c.stop()
				_ = conn.Close()
				return
			}
			c.metrics.Message("out", frame.label)
			if frame.kind == websocket.BinaryMessage {
				c.metrics.FrameSent()
			}
		case <-c.stopped:
			return
		case <-c.closing:
			return
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.wg.Done()
	defer c.stop()

	for {
		kind, payload, err := conn.ReadMessage()
		if err != nil {
			c.setErr(fmt.Errorf("failed to read server event: %w", err))
			return
		}

		if kind != websocket.TextMessage {
			c.metrics.Message("in", "binary")
			c.logger.Warn("dropped binary frame from server", slog.Int("bytes", len(payload)))
			c.emit(domain.ClientEvent{Kind: domain.ClientEventProtocolError, Err: ErrUnexpectedBinary})
			continue
		}

		msg, err := ParseInbound(payload)
		if err != nil {
			c.metrics.Message("in", "invalid")
			c.logger.Warn("dropped server frame", slog.String("error", err.Error()))
			c.emit(domain.ClientEvent{Kind: domain.ClientEventProtocolError, Err: err})
			continue
		}

		c.metrics.Message("in", string(msg.Type))
		c.emit(domain.ClientEvent{Kind: domain.ClientEventMessage, Message: msg})
	}
}

func (c *Client) emit(event domain.ClientEvent) {
	select {
	case <-c.closing:
		return
	default:
	}
	select {
	case c.events <- event:
	case <-c.closing:
	}
}

func (c *Client) stop() {
	c.stopOnce.Do(func() { close(c.stopped) })
}

func (c *Client) finish() {
	c.finishOnce.Do(func() {
		close(c.events)
		close(c.done)
	})
}

func (c *Client) setState(state domain.ClientState) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.state = state
}

func (c *Client) waitErr() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Client) setErr(err error) {
	if err == nil {
		return
	}
	select {
	case <-c.closing:
		return
	default:
	}
	if isNormalClose(err) {
		return
	}

	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

// isNormalClose reports whether err, possibly wrapped, is a clean close
// handshake from the server.
func isNormalClose(err error) bool {
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		return false
	}
	switch closeErr.Code {
	case websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived:
		return true
	default:
		return false
	}
}

package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"voicechat/internal/domain"
)

func TestClientConnectSendsConfigAndAudioInOrder(t *testing.T) {
	t.Parallel()

	srv := newFakeServer(t, nil)
	client := NewClient(Config{URL: srv.url()}, nil, nil)
	defer client.Close()

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if client.State() != domain.ClientOpen {
		t.Fatalf("expected open state, got %s", client.State())
	}

	if err := client.SendConfig("en_us_001", "en-US"); err != nil {
		t.Fatalf("send config failed: %v", err)
	}
	if err := client.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	for i := byte(1); i <= 3; i++ {
		if err := client.SendAudio([]byte{i, 0}); err != nil {
			t.Fatalf("send audio failed: %v", err)
		}
	}
	if err := client.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	frames := srv.waitFrames(t, 6)
	var config map[string]string
	if err := json.Unmarshal(frames[0].data, &config); err != nil {
		t.Fatalf("config frame is not json: %v", err)
	}
	if config["type"] != "config" || config["voice"] != "en_us_001" || config["lang"] != "en-US" {
		t.Fatalf("unexpected config frame: %v", config)
	}
	if string(frames[1].data) != `{"type":"start"}` {
		t.Fatalf("expected start frame, got %s", frames[1].data)
	}
	for i := 0; i < 3; i++ {
		frame := frames[2+i]
		if frame.kind != websocket.BinaryMessage || frame.data[0] != byte(i+1) {
			t.Fatalf("audio frame %d out of order: %+v", i, frame)
		}
	}
	if string(frames[5].data) != `{"type":"stop"}` {
		t.Fatalf("expected stop frame, got %s", frames[5].data)
	}
}

func TestClientDispatchesInboundFrames(t *testing.T) {
	t.Parallel()

	srv := newFakeServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"transcript","text":"hello","is_final":true}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"pong"}`))
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2})
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"status","status":"recording"}`))
	})
	client := NewClient(Config{URL: srv.url()}, nil, nil)
	defer client.Close()

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	first := nextEvent(t, client)
	if first.Kind != domain.ClientEventMessage || first.Message.Text != "hello" {
		t.Fatalf("unexpected first event: %+v", first)
	}
	second := nextEvent(t, client)
	if second.Kind != domain.ClientEventProtocolError || !errors.Is(second.Err, ErrUnknownMessageType) {
		t.Fatalf("expected unknown type error, got %+v", second)
	}
	third := nextEvent(t, client)
	if third.Kind != domain.ClientEventProtocolError || !errors.Is(third.Err, ErrUnexpectedBinary) {
		t.Fatalf("expected binary frame error, got %+v", third)
	}
	fourth := nextEvent(t, client)
	if fourth.Kind != domain.ClientEventMessage || fourth.Message.Status != "recording" {
		t.Fatalf("unexpected status event: %+v", fourth)
	}
}

func TestClientEmitsClosedWhenServerHangsUp(t *testing.T) {
	t.Parallel()

	srv := newFakeServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(time.Second),
		)
		_ = conn.Close()
	})
	client := NewClient(Config{URL: srv.url()}, nil, nil)
	defer client.Close()

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	event := nextEvent(t, client)
	if event.Kind != domain.ClientEventClosed {
		t.Fatalf("expected closed event, got %+v", event)
	}
	if event.Err != nil {
		t.Fatalf("normal closure should not carry an error: %v", event.Err)
	}
	if _, ok := <-client.Events(); ok {
		t.Fatalf("expected events channel closed")
	}
	if client.State() != domain.ClientClosed {
		t.Fatalf("expected closed state, got %s", client.State())
	}
	if err := client.Start(); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected not connected after close, got %v", err)
	}
}

func TestClientReportsAbnormalClose(t *testing.T) {
	t.Parallel()

	srv := newFakeServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "boom"),
			time.Now().Add(time.Second),
		)
		_ = conn.Close()
	})
	client := NewClient(Config{URL: srv.url()}, nil, nil)
	defer client.Close()

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	event := nextEvent(t, client)
	if event.Kind != domain.ClientEventClosed {
		t.Fatalf("expected closed event, got %+v", event)
	}
	var closeErr *websocket.CloseError
	if !errors.As(event.Err, &closeErr) || closeErr.Code != websocket.CloseInternalServerErr {
		t.Fatalf("expected internal error close to be reported, got %v", event.Err)
	}
}

func TestIsNormalCloseUnwrapsReadErrors(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		err  error
		want bool
	}{
		"normal":      {err: &websocket.CloseError{Code: websocket.CloseNormalClosure}, want: true},
		"wrapped":     {err: fmt.Errorf("failed to read server event: %w", &websocket.CloseError{Code: websocket.CloseNormalClosure, Text: "bye"}), want: true},
		"going away":  {err: fmt.Errorf("read: %w", &websocket.CloseError{Code: websocket.CloseGoingAway}), want: true},
		"no status":   {err: fmt.Errorf("read: %w", &websocket.CloseError{Code: websocket.CloseNoStatusReceived}), want: true},
		"abnormal":    {err: fmt.Errorf("read: %w", &websocket.CloseError{Code: websocket.CloseAbnormalClosure}), want: false},
		"plain error": {err: errors.New("connection reset"), want: false},
	}

	for name, tc := range cases {
		name := name
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if got := isNormalClose(tc.err); got != tc.want {
				t.Fatalf("isNormalClose(%v)=%v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestClientSendBeforeConnect(t *testing.T) {
	t.Parallel()

	client := NewClient(Config{URL: "ws://127.0.0.1:1/ws"}, nil, nil)
	if err := client.SendAudio([]byte{1, 2}); err != nil {
		t.Fatalf("audio before connect should be dropped silently: %v", err)
	}
	if err := client.SendConfig("v", "en-US"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected not connected, got %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if _, ok := <-client.Events(); ok {
		t.Fatalf("expected events closed after close")
	}
}

func TestClientConnectFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	client := NewClient(Config{URL: "ws" + strings.TrimPrefix(srv.URL, "http")}, nil, nil)
	if err := client.Connect(context.Background()); err == nil {
		t.Fatalf("expected handshake failure")
	}
	if client.State() != domain.ClientClosed {
		t.Fatalf("expected closed state, got %s", client.State())
	}
	if err := client.Connect(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("client must be single use, got %v", err)
	}
}

func TestClientCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	srv := newFakeServer(t, nil)
	client := NewClient(Config{URL: srv.url()}, nil, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}
	if client.State() != domain.ClientClosed {
		t.Fatalf("expected closed state, got %s", client.State())
	}
	for range client.Events() {
	}
}

type receivedFrame struct {
	kind int
	data []byte
}

type fakeServer struct {
	srv *httptest.Server

	mu     sync.Mutex
	frames []receivedFrame
}

func newFakeServer(t *testing.T, onConnect func(*websocket.Conn)) *fakeServer {
	t.Helper()

	fs := &fakeServer{}
	upgrader := websocket.Upgrader{}
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if onConnect != nil {
			onConnect(conn)
		}
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			fs.mu.Lock()
			fs.frames = append(fs.frames, receivedFrame{kind: kind, data: data})
			fs.mu.Unlock()
		}
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (s *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *fakeServer) waitFrames(t *testing.T, n int) []receivedFrame {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		if len(s.frames) >= n {
			out := append([]receivedFrame(nil), s.frames...)
			s.mu.Unlock()
			return out
		}
		s.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d frames", n)
	return nil
}

func nextEvent(t *testing.T, client *Client) domain.ClientEvent {
	t.Helper()

	select {
	case event, ok := <-client.Events():
		if !ok {
			t.Fatalf("events channel closed")
		}
		return event
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return domain.ClientEvent{}
}

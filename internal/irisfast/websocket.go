package irisfast

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

var ErrNotConnected = errors.New("ws not connected")

type MessageCallback func(message *Message)

type StateCallback func(state WebSocketState)

// WebSocket is a self-reconnecting Iris event stream. Reads and pings run per
// connection; writes are serialized through writeMu.
type WebSocket struct {
	url            string
	maxReconnect   uint
	reconnectDelay time.Duration
	pingInterval   time.Duration
	headers        HeaderProvider
	logger         *zap.Logger

	mu    sync.Mutex
	conn  *websocket.Conn
	state WebSocketState

	writeMu sync.Mutex

	cbMu     sync.RWMutex
	msgCbs   []MessageCallback
	stateCbs []StateCallback

	rootCtx    context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup
}

func NewWebSocket(wsURL string, maxReconnectAttempts int, reconnectDelay time.Duration) *WebSocket {
	ctx, cancel := context.WithCancel(context.Background())
	if maxReconnectAttempts < 0 {
		maxReconnectAttempts = 0
	}
	return &WebSocket{
		url:            wsURL,
		maxReconnect:   uint(maxReconnectAttempts),
		reconnectDelay: reconnectDelay,
		pingInterval:   30 * time.Second,
		logger:         zap.NewNop(),
		state:          WSStateDisconnected,
		rootCtx:        ctx,
		rootCancel:     cancel,
	}
}

// SetHeaderProvider injects headers into every handshake, reconnects included.
func (ws *WebSocket) SetHeaderProvider(h HeaderProvider) { ws.headers = h }

func (ws *WebSocket) SetLogger(l *zap.Logger) {
	if l != nil {
		ws.logger = l
	}
}

func (ws *WebSocket) OnMessage(cb MessageCallback) {
	ws.cbMu.Lock()
	ws.msgCbs = append(ws.msgCbs, cb)
	ws.cbMu.Unlock()
}

func (ws *WebSocket) OnStateChange(cb StateCallback) {
	ws.cbMu.Lock()
	ws.stateCbs = append(ws.stateCbs, cb)
	ws.cbMu.Unlock()
}

func (ws *WebSocket) State() WebSocketState {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.state
}

// Connect dials once. On failure the background reconnect loop takes over and
// the dial error is still returned.
func (ws *WebSocket) Connect(ctx context.Context) error {
	switch ws.State() {
	case WSStateConnected, WSStateConnecting, WSStateReconnecting:
		return nil
	}
	ws.setState(WSStateConnecting)

	conn, err := ws.dial(ctx)
	if err != nil {
		ws.setState(WSStateFailed)
		ws.wg.Add(1)
		go ws.reconnect()
		return err
	}
	ws.attach(conn)
	return nil
}

// Send writes v as one JSON frame.
func (ws *WebSocket) Send(ctx context.Context, v any) error {
	ws.mu.Lock()
	conn, state := ws.conn, ws.state
	ws.mu.Unlock()
	if conn == nil || state != WSStateConnected {
		return ErrNotConnected
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()
	return wsjson.Write(ctx, conn, v)
}

func (ws *WebSocket) Close(ctx context.Context) error {
	ws.rootCancel()
	ws.mu.Lock()
	conn := ws.conn
	ws.conn = nil
	ws.mu.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "close")
	}

	done := make(chan struct{})
	go func() {
		ws.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		ws.setState(WSStateDisconnected)
		return nil
	}
}

func (ws *WebSocket) dial(ctx context.Context) (*websocket.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dctx, ws.url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      ws.buildHeaders(),
	})
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(1 << 20)
	return conn, nil
}

func (ws *WebSocket) attach(conn *websocket.Conn) {
	ws.mu.Lock()
	ws.conn = conn
	ws.mu.Unlock()
	ws.setState(WSStateConnected)
	ws.logger.Info("ws_connected", zap.String("url", ws.url))

	cctx, cancel := context.WithCancel(ws.rootCtx)
	ws.wg.Add(2)
	go ws.listen(cctx, cancel, conn)
	go ws.pingLoop(cctx, cancel, conn)
}

func (ws *WebSocket) listen(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) {
	defer ws.wg.Done()
	defer cancel()
	for {
		var msg Message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			ws.drop(conn, err)
			return
		}
		ws.cbMu.RLock()
		cbs := append([]MessageCallback(nil), ws.msgCbs...)
		ws.cbMu.RUnlock()
		for _, cb := range cbs {
			cb(&msg)
		}
	}
}

// pingLoop cancels the connection after two consecutive ping failures; listen
// then observes the read error and drives the reconnect.
func (ws *WebSocket) pingLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) {
	defer ws.wg.Done()
	t := time.NewTicker(ws.pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		pctx, pcancel := context.WithTimeout(ctx, 3*time.Second)
		err := conn.Ping(pctx)
		pcancel()
		if err == nil {
			failures = 0
			continue
		}
		failures++
		if failures >= 2 {
			ws.logger.Warn("ws_ping_failed", zap.Error(err))
			cancel()
			return
		}
	}
}

func (ws *WebSocket) drop(conn *websocket.Conn, cause error) {
	if ws.rootCtx.Err() != nil {
		return
	}
	ws.mu.Lock()
	if ws.conn == conn {
		ws.conn = nil
	}
	ws.mu.Unlock()
	_ = conn.Close(websocket.StatusGoingAway, "reconnect")
	ws.logger.Warn("ws_disconnected", zap.Error(cause))
	ws.setState(WSStateDisconnected)

	ws.wg.Add(1)
	go ws.reconnect()
}

func (ws *WebSocket) reconnect() {
	defer ws.wg.Done()
	if ws.maxReconnect == 0 {
		ws.setState(WSStateFailed)
		return
	}
	ws.setState(WSStateReconnecting)
	err := retry.Do(
		func() error {
			conn, err := ws.dial(ws.rootCtx)
			if err != nil {
				return err
			}
			ws.attach(conn)
			return nil
		},
		retry.Context(ws.rootCtx),
		retry.Attempts(ws.maxReconnect),
		retry.Delay(ws.reconnectDelay),
		retry.MaxDelay(30*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			ws.logger.Debug("ws_reconnect_retry", zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
	if err != nil && ws.rootCtx.Err() == nil {
		ws.logger.Error("ws_reconnect_exhausted", zap.Error(err))
		ws.setState(WSStateFailed)
	}
}

func (ws *WebSocket) setState(s WebSocketState) {
	ws.mu.Lock()
	ws.state = s
	ws.mu.Unlock()

	ws.cbMu.RLock()
	cbs := append([]StateCallback(nil), ws.stateCbs...)
	ws.cbMu.RUnlock()
	for _, cb := range cbs {
		cb(s)
	}
}

func (ws *WebSocket) buildHeaders() http.Header {
	hdr := http.Header{}
	if ws.headers == nil {
		return hdr
	}
	for k, v := range ws.headers() {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		hdr.Set(k, v)
	}
	return hdr
}

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MegaGrindStone/chatbot-ui/internal/models"
	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

// RealtimeHandler receives what arrives on a realtime connection. HandleToken is called once per inbound
// message event, in arrival order, from the connection's read goroutine. HandleDisconnect is called when the
// connection drops unexpectedly, before any reconnect attempt, and HandleReconnect once a redial succeeds.
type RealtimeHandler interface {
	HandleToken(payload string)
	HandleDisconnect(err error)
	HandleReconnect()
}

// RealtimeOptions tunes a Realtime connection. Zero values fall back to defaults.
type RealtimeOptions struct {
	WriteTimeout time.Duration
	// ReconnectMaxElapsed bounds the total time spent redialing after a drop. A negative value disables
	// reconnecting.
	ReconnectMaxElapsed time.Duration

	Dialer *websocket.Dialer
}

// Realtime is a WebSocket connection to the backend's realtime endpoint. Frames are JSON encoded
// models.Envelope values. After an unexpected drop the connection redials with exponential backoff until it
// succeeds, the reconnect budget is spent, or Close is called.
type Realtime struct {
	url     string
	handler RealtimeHandler
	dialer  *websocket.Dialer
	opts    RealtimeOptions

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	writeMu sync.Mutex

	logger *slog.Logger
}

var (
	// ErrRealtimeClosed is returned by Emit after Close.
	ErrRealtimeClosed = errors.New("realtime connection closed")
	// ErrRealtimeDisconnected is returned by Emit while the connection is down.
	ErrRealtimeDisconnected = errors.New("realtime connection is down")
)

const (
	defaultWriteTimeout        = 10 * time.Second
	defaultReconnectMaxElapsed = time.Minute
)

// DialRealtime connects to url (a ws:// or wss:// URL) and starts delivering inbound events to handler. The
// first dial is not retried; its error is returned as is.
func DialRealtime(
	ctx context.Context,
	url string,
	handler RealtimeHandler,
	opts RealtimeOptions,
	logger *slog.Logger,
) (*Realtime, error) {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.ReconnectMaxElapsed == 0 {
		opts.ReconnectMaxElapsed = defaultReconnectMaxElapsed
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	r := &Realtime{
		url:     url,
		handler: handler,
		dialer:  dialer,
		opts:    opts,
		logger:  logger.With(slog.String("module", "realtime")),
	}

	conn, err := r.dial(ctx)
	if err != nil {
		return nil, err
	}
	r.conn = conn
	r.ctx, r.cancel = context.WithCancel(context.Background())

	r.wg.Add(1)
	go r.readLoop(conn)

	r.logger.Info("Realtime connection established", slog.String("url", url))

	return r, nil
}

func (r *Realtime) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := r.dialer.DialContext(ctx, r.url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", r.url, err)
	}
	return conn, nil
}

// Emit sends one event with the given payload.
func (r *Realtime) Emit(ctx context.Context, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", event, err)
	}
	frame, err := json.Marshal(models.Envelope{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("failed to marshal %s frame: %w", event, err)
	}

	r.mu.Lock()
	conn, closed := r.conn, r.closed
	r.mu.Unlock()
	if closed {
		return ErrRealtimeClosed
	}
	if conn == nil {
		return ErrRealtimeDisconnected
	}

	deadline := time.Now().Add(r.opts.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("failed to write %s frame: %w", event, err)
	}
	return nil
}

// Close closes the connection and stops reconnecting. It waits for the read goroutine to exit, so it must not
// be called from a RealtimeHandler callback.
func (r *Realtime) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	r.cancel()

	var err error
	if conn != nil {
		r.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		r.writeMu.Unlock()
		err = conn.Close()
	}

	r.wg.Wait()
	return err
}

func (r *Realtime) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Realtime) readLoop(conn *websocket.Conn) {
	defer r.wg.Done()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if r.isClosed() {
				return
			}
			r.logger.Warn("Realtime connection dropped", slog.String(errLoggerKey, err.Error()))

			r.mu.Lock()
			if r.conn == conn {
				r.conn = nil
			}
			r.mu.Unlock()
			_ = conn.Close()

			r.handler.HandleDisconnect(err)

			conn, err = r.reconnect()
			if err != nil {
				if !r.isClosed() {
					r.logger.Error("Realtime reconnect gave up", slog.String(errLoggerKey, err.Error()))
				}
				return
			}
			r.handler.HandleReconnect()
			continue
		}

		r.dispatch(data)
	}
}

func (r *Realtime) reconnect() (*websocket.Conn, error) {
	if r.opts.ReconnectMaxElapsed < 0 {
		return nil, errors.New("reconnect disabled")
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = r.opts.ReconnectMaxElapsed

	var conn *websocket.Conn
	op := func() error {
		if r.isClosed() {
			return backoff.Permanent(ErrRealtimeClosed)
		}
		c, err := r.dial(r.ctx)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	notify := func(err error, wait time.Duration) {
		r.logger.Debug("Realtime redial failed",
			slog.String(errLoggerKey, err.Error()),
			slog.Duration("wait", wait))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(bo, r.ctx), notify); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = conn.Close()
		return nil, ErrRealtimeClosed
	}
	r.conn = conn
	r.mu.Unlock()

	r.logger.Info("Realtime connection re-established", slog.String("url", r.url))
	return conn, nil
}

func (r *Realtime) dispatch(data []byte) {
	var env models.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		r.logger.Warn("Malformed realtime frame",
			slog.String("frame", string(data)),
			slog.String(errLoggerKey, err.Error()))
		return
	}
	if env.Event != models.EventMessage {
		r.logger.Debug("Ignoring realtime event", slog.String("event", env.Event))
		return
	}

	var token string
	if err := json.Unmarshal(env.Data, &token); err != nil {
		r.logger.Warn("Malformed message payload",
			slog.String("data", string(env.Data)),
			slog.String(errLoggerKey, err.Error()))
		return
	}
	r.handler.HandleToken(token)
}

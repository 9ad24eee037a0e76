package ctrader

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"ctrader_gateway/internal/logger"
)

const (
	// Open API hosts; both listen for JSON on port 5036.
	hostLive = "live.ctraderapi.com"
	hostDemo = "demo.ctraderapi.com"
	jsonPort = 5036

	heartbeatInterval = 10 * time.Second
	handshakeTimeout  = 10 * time.Second
	writeTimeout      = 5 * time.Second
)

// Endpoint returns the WebSocket URL for an environment.
func Endpoint(environment string) string {
	host := hostDemo
	if environment == "live" {
		host = hostLive
	}
	return fmt.Sprintf("wss://%s:%d", host, jsonPort)
}

// client multiplexes request/response pairs over one WebSocket. Replies are
// matched to requests by clientMsgId; everything else goes to onEvent.
type client struct {
	conn    *websocket.Conn
	limiter *rate.Limiter
	onEvent func(envelope)

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan envelope
	err     error

	done      chan struct{}
	closeOnce sync.Once
}

func dial(ctx context.Context, endpoint string, limiter *rate.Limiter, onEvent func(envelope)) (*client, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", endpoint, err)
	}

	c := &client{
		conn:    conn,
		limiter: limiter,
		onEvent: onEvent,
		pending: make(map[string]chan envelope),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	go c.heartbeat()
	return c, nil
}

// call sends a request and waits for the first reply accepted by until.
// A nil until accepts the first reply. Error payloads always end the call.
func (c *client) call(ctx context.Context, payloadType int, payload any, until func(envelope) bool) (envelope, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return envelope{}, err
		}
	}

	id := uuid.NewString()
	replies := make(chan envelope, 8)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return envelope{}, err
	}
	c.pending[id] = replies
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(id, payloadType, payload); err != nil {
		return envelope{}, err
	}

	for {
		select {
		case <-ctx.Done():
			return envelope{}, ctx.Err()
		case <-c.done:
			return envelope{}, c.closeErr()
		case env := <-replies:
			switch env.PayloadType {
			case typeErrorRes, typeOrderErrorEvent:
				var res errorRes
				if err := json.Unmarshal(env.Payload, &res); err != nil {
					return envelope{}, fmt.Errorf("decoding error response: %w", err)
				}
				return envelope{}, &VendorError{Code: res.ErrorCode, Description: res.Description}
			}
			if until == nil || until(env) {
				return env, nil
			}
		}
	}
}

// send writes a message without waiting for a reply.
func (c *client) send(payloadType int, payload any) error {
	return c.write("", payloadType, payload)
}

func (c *client) write(id string, payloadType int, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload %d: %w", payloadType, err)
	}
	msg, err := json.Marshal(envelope{ClientMsgID: id, PayloadType: payloadType, Payload: raw})
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return fmt.Errorf("writing payload %d: %w", payloadType, err)
	}
	return nil
}

func (c *client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.shutdown(fmt.Errorf("%w: %v", ErrClosed, err))
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			logger.Warn(context.Background(), "ctrader: discarding malformed message", "error", err)
			continue
		}

		if env.ClientMsgID != "" {
			c.mu.Lock()
			ch, ok := c.pending[env.ClientMsgID]
			c.mu.Unlock()
			if ok {
				select {
				case ch <- env:
				default:
					logger.Warn(context.Background(), "ctrader: reply buffer full", "payloadType", env.PayloadType)
				}
				continue
			}
		}

		if env.PayloadType == typeHeartbeat {
			continue
		}
		if c.onEvent != nil {
			c.onEvent(env)
		}
	}
}

func (c *client) heartbeat() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.send(typeHeartbeat, struct{}{}); err != nil {
				logger.Warn(context.Background(), "ctrader: heartbeat failed", "error", err)
			}
		}
	}
}

func (c *client) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *client) closeErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		return ErrClosed
	}
	return c.err
}

// close sends a close frame and releases the socket.
func (c *client) close() error {
	c.shutdown(ErrClosed)

	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout))
	c.writeMu.Unlock()

	return c.conn.Close()
}

package ws

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/larder/larder/internal/errors"
	"github.com/larder/larder/pkg/api"
)

const (
	// reconnectWait is the pause between connection attempts.
	reconnectWait = 5 * time.Second

	// pingInterval is how often the client proves the connection alive.
	// A missed pong closes the socket and forces a reconnect.
	pingInterval = 30 * time.Second

	// requestTimeout bounds how long a one-shot request waits for its
	// response.
	requestTimeout = 10 * time.Second
)

// subscription re-issues its request on every new connection and feeds
// each response to the handler for as long as the client runs.
type subscription struct {
	msgType string
	data    func() (any, error)
	handler func(api.Response)
}

// Client maintains one websocket to the server, transparently
// reconnecting, and multiplexes requests over it by request id.
type Client struct {
	url      string
	onStatus func(connected bool)
	log      *logrus.Entry

	nextRequestID atomic.Int64

	mu            sync.Mutex
	conn          *websocket.Conn
	connected     bool
	pending       map[int64]chan api.Response
	subscriptions []*subscription
}

// NewClient creates a client for the given websocket URL. onStatus is
// called with true once the server greeting arrives and false when the
// connection drops; it may be nil.
func NewClient(url string, onStatus func(connected bool)) *Client {
	return &Client{
		url:      url,
		onStatus: onStatus,
		pending:  make(map[int64]chan api.Response),
		log:      logrus.WithField("component", "ws-client"),
	}
}

// Run connects and keeps the connection alive until the context is
// cancelled. It blocks.
func (c *Client) Run(ctx context.Context) {
	for {
		if err := c.connectOnce(ctx); err != nil {
			c.log.WithError(err).Info("connection attempt failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectWait):
		}
	}
}

// Subscribe registers a long-lived request: data() is evaluated and the
// request sent on every (re)connection, and every response under its
// request id goes to handler.
func (c *Client) Subscribe(msgType string, data func() (any, error), handler func(api.Response)) {
	sub := &subscription{msgType: msgType, data: data, handler: handler}

	c.mu.Lock()
	c.subscriptions = append(c.subscriptions, sub)
	connected := c.connected
	c.mu.Unlock()

	if connected {
		c.startSubscription(sub)
	}
}

// AddEvents pushes one entity's batch. Implements the sync engine's
// transport.
func (c *Client) AddEvents(ctx context.Context, req api.AddEventsRequest) (api.AddEventsResponse, error) {
	var resp api.AddEventsResponse
	err := c.request(ctx, api.TypeAddEvents, req, &resp)
	return resp, err
}

// SyncEvents performs a one-shot catch-up request: only the snapshot
// response is consumed. Live batches are delivered through Subscribe.
func (c *Client) SyncEvents(ctx context.Context, req api.SyncEventsRequest) (api.SyncEventsResponse, error) {
	var resp api.SyncEventsResponse
	err := c.request(ctx, api.TypeSyncEvents, req, &resp)
	return resp, err
}

func (c *Client) request(ctx context.Context, msgType string, data any, out any) error {
	requestID, ch, err := c.send(msgType, data)
	if err != nil {
		return err
	}
	defer c.unregister(requestID)

	timer := time.NewTimer(requestTimeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return errors.NewTransportError(errors.CodeNotConnected, "connection lost awaiting "+msgType)
		}
		if resp.Error != "" {
			return errors.NewTransportError(errors.CodeBadEnvelope, resp.Error)
		}
		if out != nil {
			if err := json.Unmarshal(resp.Data, out); err != nil {
				return errors.NewTransportError(errors.CodeBadEnvelope, "malformed response payload")
			}
		}
		return nil
	case <-timer.C:
		return errors.NewTransportError(errors.CodeRequestTimeout, "server never responded to "+msgType)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) send(msgType string, data any) (int64, chan api.Response, error) {
	ch := make(chan api.Response, 1)
	requestID, err := c.sendOn(msgType, data, ch)
	return requestID, ch, err
}

// sendOn issues a request with the caller's channel registered under the
// request id before anything is written, so no response can arrive
// unrouted.
func (c *Client) sendOn(msgType string, data any, ch chan api.Response) (int64, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return 0, errors.NewTransportError(errors.CodeBadEnvelope, "failed to serialize request")
	}

	requestID := c.nextRequestID.Add(1)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected || c.conn == nil {
		return 0, errors.NewTransportError(errors.CodeNotConnected, "no connection established")
	}

	c.pending[requestID] = ch

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(api.Request{
		RequestID: requestID,
		Type:      msgType,
		Data:      body,
	}); err != nil {
		delete(c.pending, requestID)
		return 0, errors.NewTransportError(errors.CodeNotConnected, "failed to send request")
	}
	return requestID, nil
}

func (c *Client) unregister(requestID int64) {
	c.mu.Lock()
	delete(c.pending, requestID)
	c.mu.Unlock()
}

func (c *Client) connectOnce(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.url, nil)
	cancel()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()

	defer func() {
		c.mu.Lock()
		c.conn = nil
		wasConnected := c.connected
		c.connected = false
		// Closing the pending channels releases every waiting request
		// and stops the subscription pumps.
		for _, ch := range c.pending {
			close(ch)
		}
		c.pending = make(map[int64]chan api.Response)
		c.mu.Unlock()

		conn.Close()
		if wasConnected && c.onStatus != nil {
			c.onStatus(false)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		conn.SetReadDeadline(time.Now().Add(readWait))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var greeting api.Greeting
		if json.Unmarshal(raw, &greeting) == nil && greeting.SocketIsOpen {
			c.mu.Lock()
			c.connected = true
			subs := make([]*subscription, len(c.subscriptions))
			copy(subs, c.subscriptions)
			c.mu.Unlock()

			if c.onStatus != nil {
				c.onStatus(true)
			}
			for _, sub := range subs {
				c.startSubscription(sub)
			}
			go c.pingLoop(pingCtx, conn)
			continue
		}

		var resp api.Response
		if err := json.Unmarshal(raw, &resp); err != nil {
			c.log.WithError(err).Warn("dropping malformed server message")
			continue
		}
		c.deliver(resp)
	}
}

func (c *Client) deliver(resp api.Response) {
	c.mu.Lock()
	ch, ok := c.pending[resp.RequestID]
	c.mu.Unlock()
	if !ok {
		return
	}

	select {
	case ch <- resp:
	default:
		// One-shot requests only consume the first response; later
		// responses under the same id (a finished subscription) are
		// dropped here.
	}
}

// startSubscription issues the subscription's request with its long-lived
// feed channel registered up front, so the snapshot response and every
// live batch after it arrive on the same channel. The pump runs until
// connection teardown closes the feed.
func (c *Client) startSubscription(sub *subscription) {
	data, err := sub.data()
	if err != nil {
		c.log.WithError(err).Error("failed to build subscription request")
		return
	}

	feed := make(chan api.Response, sendBuffer)
	if _, err := c.sendOn(sub.msgType, data, feed); err != nil {
		c.log.WithError(err).Warn("failed to start subscription")
		return
	}

	go func() {
		for resp := range feed {
			sub.handler(resp)
		}
	}()
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var pong string
			if err := c.request(ctx, api.TypePing, nil, &pong); err != nil {
				c.log.WithError(err).Info("ping failed, closing connection")
				conn.Close()
				return
			}
		}
	}
}

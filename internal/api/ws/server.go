// Package ws carries the client-server protocol over a single websocket:
// JSON request/response envelopes multiplexed by client-generated request
// ids. The syncEvents operation is a subscription, not a plain request;
// the server keeps answering under the same request id as new events are
// accepted.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/larder/larder/internal/hub"
	"github.com/larder/larder/pkg/api"
	"github.com/larder/larder/pkg/event"
)

const (
	writeWait = 10 * time.Second

	// readWait must outlast the client's 30 second application-level ping
	// interval with room for a slow round trip.
	readWait = 90 * time.Second

	sendBuffer = 32
)

// Server upgrades connections and serves the event protocol.
type Server struct {
	hub      *hub.Hub
	upgrader websocket.Upgrader
	log      *logrus.Entry
}

// NewServer creates a websocket gateway over the hub.
func NewServer(h *hub.Hub) *Server {
	return &Server{
		hub: h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		log: logrus.WithField("component", "gateway"),
	}
}

// ServeHTTP upgrades the request and runs the session until the client
// goes away.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	sess := &session{
		server: s,
		conn:   conn,
		send:   make(chan api.Response, sendBuffer),
		log:    s.log.WithField("remote", conn.RemoteAddr().String()),
	}
	sess.run(r.Context())
}

// session is one connected client.
type session struct {
	server *Server
	conn   *websocket.Conn
	send   chan api.Response
	log    *logrus.Entry
}

func (s *session) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.writeLoop(ctx)

	// The greeting tells the client the socket survived the upgrade; it
	// is the signal to start pushing queued offline events.
	if err := s.writeJSON(api.Greeting{SocketIsOpen: true}); err != nil {
		s.log.WithError(err).Warn("failed to send greeting")
		return
	}

	s.readLoop(ctx)
}

func (s *session) readLoop(ctx context.Context) {
	defer s.conn.Close()

	for {
		s.conn.SetReadDeadline(time.Now().Add(readWait))
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.WithError(err).Info("connection closed")
			}
			return
		}

		var req api.Request
		if err := json.Unmarshal(raw, &req); err != nil {
			s.log.WithError(err).Warn("dropping malformed request")
			continue
		}
		s.dispatch(ctx, req)
	}
}

func (s *session) writeLoop(ctx context.Context) {
	for {
		select {
		case resp, ok := <-s.send:
			if !ok {
				return
			}
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(resp); err != nil {
				s.log.WithError(err).Info("write failed, closing session")
				s.conn.Close()
				return
			}
		case <-ctx.Done():
			s.conn.Close()
			return
		}
	}
}

func (s *session) dispatch(ctx context.Context, req api.Request) {
	switch req.Type {
	case api.TypePing:
		s.respond(req.RequestID, api.PongData)
	case api.TypeAddEvents:
		s.addEvents(ctx, req)
	case api.TypeSyncEvents:
		s.syncEvents(ctx, req)
	default:
		s.respondError(req.RequestID, "unknown request type "+req.Type)
	}
}

func (s *session) addEvents(ctx context.Context, req api.Request) {
	var body api.AddEventsRequest
	if err := json.Unmarshal(req.Data, &body); err != nil {
		s.respondError(req.RequestID, "malformed addEvents request")
		return
	}

	_, rejected, err := s.server.hub.AddEvents(ctx, body.EntityID, body.Events)
	if err != nil {
		s.respondError(req.RequestID, err.Error())
		return
	}

	resp := api.AddEventsResponse{Failed: []api.FailedEvent{}}
	for _, r := range rejected {
		resp.Failed = append(resp.Failed, api.FailedEvent{
			EventID: r.EventID,
			Error:   r.Err.Error(),
		})
	}
	s.respond(req.RequestID, resp)
}

// syncEvents answers with a catch-up snapshot and then keeps streaming
// accepted batches under the same request id. The subscription is taken
// before the snapshot is read so no event accepted in between is lost;
// the client's merge is idempotent by event id, so an event appearing in
// both the snapshot and a live batch is harmless.
func (s *session) syncEvents(ctx context.Context, req api.Request) {
	var body api.SyncEventsRequest
	if len(req.Data) > 0 {
		if err := json.Unmarshal(req.Data, &body); err != nil {
			s.respondError(req.RequestID, "malformed syncEvents request")
			return
		}
	}

	cursor, err := event.ParseTime(body.Cursor)
	if err != nil {
		s.respondError(req.RequestID, "invalid cursor")
		return
	}

	sub := s.server.hub.Broadcaster().SubscribeAutoID()

	events, next, err := s.server.hub.SyncEvents(ctx, cursor)
	if err != nil {
		s.server.hub.Broadcaster().Unsubscribe(sub.ID)
		s.respondError(req.RequestID, err.Error())
		return
	}
	s.respond(req.RequestID, api.SyncEventsResponse{
		Cursor: next.String(),
		Events: events,
	})

	go s.streamBatches(ctx, req.RequestID, sub)
}

func (s *session) streamBatches(ctx context.Context, requestID int64, sub *hub.Subscriber) {
	defer s.server.hub.Broadcaster().Unsubscribe(sub.ID)

	for {
		select {
		case batch, ok := <-sub.Ch:
			if !ok {
				return
			}
			s.respond(requestID, api.SyncEventsResponse{
				Cursor: event.MaxTimestamp(batch).String(),
				Events: batch,
			})
		case <-ctx.Done():
			return
		}
	}
}

func (s *session) respond(requestID int64, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		s.respondError(requestID, "failed to serialize response")
		return
	}
	s.enqueue(api.Response{RequestID: requestID, Data: body})
}

func (s *session) respondError(requestID int64, message string) {
	s.enqueue(api.Response{RequestID: requestID, Error: message})
}

func (s *session) enqueue(resp api.Response) {
	select {
	case s.send <- resp:
	default:
		// A client that cannot drain its responses is beyond saving;
		// closing forces it through the reconnect path.
		s.log.Warn("send buffer full, closing session")
		s.conn.Close()
	}
}

func (s *session) writeJSON(v any) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(v)
}

package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
)

// Handler upgrades HTTP requests to WebSocket connections and runs the
// per-connection protocol loop.
type Handler struct {
	hub *Hub
}

// NewHandler creates a Handler over the given hub.
func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// ServeHTTP accepts the WebSocket and reads frames until the connection
// closes. Teardown runs exactly once through the deferred Disconnect,
// whether or not the client ever joined.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // Allow all origins in dev; tighten in production.
	})
	if err != nil {
		log.Printf("ws: accept error: %v", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	client := &Client{
		id:   uuid.NewString(),
		conn: conn,
	}

	connCtx := h.hub.AddClient(client)
	defer h.hub.Disconnect(client)

	h.readLoop(r.Context(), connCtx, client)
}

// readLoop decodes inbound frames and dispatches them to the hub. A
// malformed frame earns the sender an error frame and nothing else;
// the connection stays open.
func (h *Handler) readLoop(ctx context.Context, connCtx context.Context, client *Client) {
	for {
		select {
		case <-connCtx.Done():
			return
		default:
		}

		_, data, err := client.conn.Read(ctx)
		if err != nil {
			// Normal close or context cancelled.
			return
		}

		h.hub.ConnMgr().TouchActivity(client)

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.sendError(client, "Invalid message format")
			continue
		}

		switch frame.Type {
		case frameUserJoin:
			if frame.UserID == "" || frame.Username == "" {
				h.sendError(client, "userId and username are required")
				continue
			}
			h.hub.Join(client, frame.UserID, frame.Username)

		case frameSendMessage:
			if _, err := h.hub.SendMessage(client, frame.Content); err != nil {
				h.sendError(client, errorText(err))
			}

		case frameTypingStart:
			h.hub.TypingStart(client)

		case frameTypingStop:
			h.hub.TypingStop(client)

		default:
			// Unknown frame types are ignored.
		}
	}
}

// sendError queues an error frame through the client's outbound buffer
// so it stays ordered with other notifications.
func (h *Handler) sendError(client *Client, msg string) {
	data, err := marshalError(msg)
	if err != nil {
		return
	}
	h.hub.ConnMgr().Send(client, data)
}

func errorText(err error) string {
	if errors.Is(err, ErrUnauthenticated) {
		return "Not authenticated"
	}
	return err.Error()
}

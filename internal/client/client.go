// Package client dials the chat gateway over a websocket and exchanges
// envelopes with it.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nfrund/roomchat/internal/events"
)

const (
	writeWait        = 10 * time.Second
	handshakeTimeout = 10 * time.Second
	eventBuffer      = 64
)

// ErrClosed is returned by sends after the connection has gone away.
var ErrClosed = errors.New("client connection closed")

// Client is a single gateway connection. Writes are serialised; inbound
// frames are delivered on Events until the connection ends.
type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	events  chan events.Envelope
	done    chan struct{}
	once    sync.Once
	err     error
	logger  *slog.Logger
}

// Dial connects to url (ws:// or wss://) presenting token as a bearer
// credential.
func Dial(ctx context.Context, url, token string) (*Client, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			return nil, fmt.Errorf("dial %s: %s: %s", url, resp.Status, body)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &Client{
		conn:   conn,
		events: make(chan events.Envelope, eventBuffer),
		done:   make(chan struct{}),
		logger: slog.Default().With("component", "client"),
	}
	go c.readLoop()
	return c, nil
}

// Events delivers decoded server frames. It is closed when the connection
// ends.
func (c *Client) Events() <-chan events.Envelope { return c.events }

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err reports why the connection ended, once Done is closed.
func (c *Client) Err() error {
	<-c.done
	return c.err
}

// Send writes one frame and returns its request id.
func (c *Client) Send(ctx context.Context, kind events.Kind, payload any) (string, error) {
	requestID := uuid.NewString()
	frame, err := events.Encode(kind, requestID, payload)
	if err != nil {
		return "", err
	}

	select {
	case <-c.done:
		return "", ErrClosed
	default:
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return "", err
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return "", fmt.Errorf("write %s: %w", kind, err)
	}
	return requestID, nil
}

// JoinRoom subscribes the connection to a room.
func (c *Client) JoinRoom(ctx context.Context, roomID string) error {
	_, err := c.Send(ctx, events.KindJoinRoom, events.JoinRoom{RoomID: roomID})
	return err
}

// LeaveRoom unsubscribes the connection from a room.
func (c *Client) LeaveRoom(ctx context.Context, roomID string) error {
	_, err := c.Send(ctx, events.KindLeaveRoom, events.LeaveRoom{RoomID: roomID})
	return err
}

// SendMessage posts content tagged with the caller's temp id.
func (c *Client) SendMessage(ctx context.Context, roomID, content, tempID string) error {
	_, err := c.Send(ctx, events.KindSendMessage, events.SendMessage{
		RoomID: roomID, Content: content, ClientTempID: tempID,
	})
	return err
}

// Typing toggles the typing indicator in a room.
func (c *Client) Typing(ctx context.Context, roomID string, isTyping bool) error {
	_, err := c.Send(ctx, events.KindTyping, events.Typing{RoomID: roomID, IsTyping: isTyping})
	return err
}

// Close sends a normal close frame and tears the connection down.
func (c *Client) Close() error {
	c.writeMu.Lock()
	err := c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	c.writeMu.Unlock()

	select {
	case <-c.done:
	case <-time.After(time.Second):
	}
	c.finish(nil)
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	return err
}

func (c *Client) readLoop() {
	defer close(c.events)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = nil
			}
			c.finish(err)
			return
		}
		env, err := events.Decode(data)
		if err != nil {
			c.logger.Warn("Dropping undecodable frame", "error", err)
			continue
		}
		select {
		case c.events <- env:
		case <-c.done:
			return
		}
	}
}

func (c *Client) finish(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
		_ = c.conn.Close()
	})
}

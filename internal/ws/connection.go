package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"quickchat/internal/models"
)

type wsConnection interface {
	Close() error
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
}

type messageHub interface {
	Join(userID string) (handle string, ch chan models.ServerMessage)
	Leave(handle string)
}

// Connection pumps server payloads onto one websocket and watches the read
// side for disconnects. Clients send messages over REST, so inbound frames
// are drained and discarded.
type Connection struct {
	ws         wsConnection
	hub        messageHub
	userID     string
	handle     string
	fromServer chan models.ServerMessage
	errorCh    chan error
}

func NewConnection(
	hub messageHub,
	ws wsConnection,
	userID string,
) *Connection {
	handle, fromServer := hub.Join(userID)
	return &Connection{
		ws:         ws,
		hub:        hub,
		userID:     userID,
		handle:     handle,
		fromServer: fromServer,
		errorCh:    make(chan error, 2),
	}
}

// Handle runs the connection until the client disconnects, a write fails or
// the context is cancelled. Every exit path unregisters the connection.
func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		c.hub.Leave(c.handle)
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.readLoop(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.writeLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

// readLoop drains client frames. Its only job is to surface the transport
// error that signals a disconnect.
func (c *Connection) readLoop(ctx context.Context) error {
	for {
		var raw json.RawMessage
		if err := c.ws.ReadJSON(&raw); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

func (c *Connection) writeLoop(ctx context.Context) error {
	for {
		select {
		case msg, ok := <-c.fromServer:
			if !ok {
				// Channel closed by the hub: we were dropped.
				return nil
			}
			if err := c.ws.WriteJSON(msg); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

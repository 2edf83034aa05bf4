package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"time"

	ws "github.com/gorilla/websocket"
)

var ErrClosed = errors.New("feed closed")

// Client follows a daemon's feed, reconnecting when the daemon restarts.
type Client struct {
	conn   *ws.Conn
	url    string
	reconn time.Duration
}

func Dial(ctx context.Context, url string, reconn time.Duration) (*Client, error) {
	log.Debug("Dialing feed", "url", url)

	conn, _, err := ws.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &Client{conn: conn, url: url, reconn: reconn}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Send writes a control frame such as {"kind":"toggle"}.
func (c *Client) Send(f Frame) error {
	return c.conn.WriteJSON(f)
}

// Read blocks for the next frame. A closed connection gives ErrClosed.
func (c *Client) Read() (Frame, error) {
	_, msg, err := c.conn.ReadMessage()
	if err != nil {
		if isClosed(err) {
			return Frame{}, fmt.Errorf("%w: %w", ErrClosed, err)
		}
		return Frame{}, fmt.Errorf("read feed: %w", err)
	}

	var f Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	return f, nil
}

// Reconnect dials until it succeeds or ctx is done.
func (c *Client) Reconnect(ctx context.Context) error {
	c.conn.Close()
	for {
		conn, _, err := ws.DefaultDialer.DialContext(ctx, c.url, nil)
		if err == nil {
			c.conn = conn
			log.Info("Feed reconnected", "url", c.url)
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.reconn):
		}
	}
}

// Follow passes every frame to fn until ctx is done.
func (c *Client) Follow(ctx context.Context, fn func(Frame)) error {
	// c.conn is read when ctx fires, so a reconnected socket is closed too
	stop := context.AfterFunc(ctx, func() { c.conn.Close() })
	defer stop()

	for {
		f, err := c.Read()
		if err == nil {
			fn(f)
			continue
		}
		if ctx.Err() != nil {
			return nil
		}

		var syntax *json.SyntaxError
		if errors.As(err, &syntax) {
			log.Warn("Skipping bad frame", "err", err)
			continue
		}

		log.Warn("Feed dropped", "err", err)
		if err := c.Reconnect(ctx); err != nil {
			return nil
		}
	}
}

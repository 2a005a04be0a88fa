package realtime

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/npratt/dashlink/internal/events"
)

// defaultReadLimit bounds a single server frame.
const defaultReadLimit = 1 << 20

// WSDialer dials the push channel over WebSocket. Frames are JSON objects
// of the form {"event": "...", "data": {...}}.
type WSDialer struct {
	URL        string
	HTTPClient *http.Client
	ReadLimit  int64
}

// NewWSDialer creates a dialer for url.
func NewWSDialer(url string) *WSDialer {
	return &WSDialer{URL: url, ReadLimit: defaultReadLimit}
}

// Dial opens a connection authenticated with a bearer token.
func (d *WSDialer) Dial(ctx context.Context, token string) (Conn, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	c, resp, err := websocket.Dial(ctx, d.URL, &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: status %d: %w", d.URL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", d.URL, err)
	}
	if d.ReadLimit > 0 {
		c.SetReadLimit(d.ReadLimit)
	}
	return &wsConn{c: c}, nil
}

type wsConn struct {
	c    *websocket.Conn
	once sync.Once
	err  error
}

func (w *wsConn) Receive(ctx context.Context) (events.Message, error) {
	var msg events.Message
	err := wsjson.Read(ctx, w.c, &msg)
	return msg, err
}

func (w *wsConn) Close() error {
	w.once.Do(func() {
		w.err = w.c.Close(websocket.StatusNormalClosure, "session closed")
	})
	return w.err
}

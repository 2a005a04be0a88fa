package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"time"
)

const (
	// DefaultClientTimeout is the default timeout for client operations.
	// Requests that reach the admin API can retry, so it sits above the
	// default retry budget.
	DefaultClientTimeout = 30 * time.Second
)

// Client connects to the daemon via Unix socket.
type Client struct {
	sockPath string
	timeout  time.Duration
}

// NewClient creates a new daemon client.
func NewClient(sockPath string) *Client {
	return &Client{
		sockPath: sockPath,
		timeout:  DefaultClientTimeout,
	}
}

// SetTimeout sets the timeout for client operations.
func (c *Client) SetTimeout(d time.Duration) {
	c.timeout = d
}

// call sends a JSON-RPC request to the daemon and decodes its result into out.
// A nil out discards the result.
func (c *Client) call(method string, params any, out any) error {
	conn, err := net.DialTimeout("unix", c.sockPath, c.timeout)
	if err != nil {
		return c.wrapConnError(err)
	}
	defer func() { _ = conn.Close() }()

	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}

	req := Request{Method: method, Params: params}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	var resp struct {
		Result json.RawMessage `json:"result,omitempty"`
		Error  string          `json:"error,omitempty"`
	}
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return errors.New("daemon request timed out")
		}
		return fmt.Errorf("read response: %w", err)
	}

	if resp.Error != "" {
		return fmt.Errorf("daemon error: %s", resp.Error)
	}

	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("unmarshal %s result: %w", method, err)
	}
	return nil
}

// wrapConnError converts connection errors to user-friendly messages.
func (c *Client) wrapConnError(err error) error {
	var sysErr syscall.Errno
	if errors.As(err, &sysErr) {
		switch sysErr {
		case syscall.ENOENT:
			return errors.New("daemon not running (socket not found)")
		case syscall.ECONNREFUSED:
			return errors.New("daemon not running (connection refused)")
		}
	}

	if os.IsNotExist(err) {
		return errors.New("daemon not running (socket not found)")
	}

	if errors.Is(err, os.ErrDeadlineExceeded) {
		return errors.New("daemon request timed out")
	}

	return fmt.Errorf("connect to daemon: %w", err)
}

// Status returns the current agent status.
func (c *Client) Status() (*StatusResponse, error) {
	var status StatusResponse
	if err := c.call(MethodStatus, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Notifications returns up to limit feed entries, newest first.
// limit <= 0 returns the whole feed.
func (c *Client) Notifications(limit int) (*NotificationsResponse, error) {
	var resp NotificationsResponse
	if err := c.call(MethodNotifications, NotificationsParams{Limit: limit}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// MarkRead marks one notification read.
func (c *Client) MarkRead(id string) error {
	return c.call(MethodMarkRead, IDParams{ID: id}, nil)
}

// MarkAllRead marks every notification read.
func (c *Client) MarkAllRead() error {
	return c.call(MethodMarkAllRead, nil, nil)
}

// Delete removes one notification.
func (c *Client) Delete(id string) error {
	return c.call(MethodDelete, IDParams{ID: id}, nil)
}

// Reconnect restarts the realtime session.
func (c *Client) Reconnect() error {
	return c.call(MethodReconnect, nil, nil)
}

// Stop requests the daemon to stop. If force is true, stops immediately.
func (c *Client) Stop(force bool) error {
	return c.call(MethodStop, StopParams{Force: force}, nil)
}

// IsRunning checks if the daemon is running by attempting to connect.
func (c *Client) IsRunning() bool {
	conn, err := net.DialTimeout("unix", c.sockPath, time.Second)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

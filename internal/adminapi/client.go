// Package adminapi is the typed facade over the admin backend's REST
// endpoints. Every method goes through the gateway and returns its Outcome.
package adminapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/npratt/dashlink/internal/gateway"
)

// Endpoint paths.
const (
	PathHealth             = "/api/health"
	PathStats              = "/api/admin/dashboard/stats"
	PathApplications       = "/api/applications/admin"
	PathJobs               = "/api/jobs/admin"
	PathNotifications      = "/api/notifications"
	PathUnreadCount        = "/api/notifications/unread-count"
	PathMarkAllRead        = "/api/notifications/read-all"
	notificationPathPrefix = "/api/notifications/"
)

// Caller performs a gateway call. *gateway.Gateway implements it.
type Caller interface {
	Call(ctx context.Context, method, endpoint string, body any, opts ...gateway.CallOption) gateway.Outcome
}

// Client exposes the admin endpoints.
type Client struct {
	gw Caller
}

// New creates a Client over gw.
func New(gw Caller) *Client {
	return &Client{gw: gw}
}

// NotificationPage is the body of GET /api/notifications.
type NotificationPage struct {
	Notifications []json.RawMessage `json:"notifications"`
	UnreadCount   int               `json:"unreadCount"`
	Total         int               `json:"total"`
}

// UnreadCount is the body of GET /api/notifications/unread-count and of the
// unread-count push event.
type UnreadCount struct {
	UnreadCount int `json:"unreadCount"`
}

// Health checks backend liveness. It makes a single attempt.
func (c *Client) Health(ctx context.Context) gateway.Outcome {
	return c.gw.Call(ctx, http.MethodGet, PathHealth, nil, gateway.WithoutRetry())
}

// Stats fetches dashboard counters.
func (c *Client) Stats(ctx context.Context) gateway.Outcome {
	return c.gw.Call(ctx, http.MethodGet, PathStats, nil)
}

// Applications fetches one page of job applications.
func (c *Client) Applications(ctx context.Context, page, limit int) gateway.Outcome {
	return c.gw.Call(ctx, http.MethodGet, paged(PathApplications, page, limit), nil)
}

// Jobs fetches one page of job postings.
func (c *Client) Jobs(ctx context.Context, page, limit int) gateway.Outcome {
	return c.gw.Call(ctx, http.MethodGet, paged(PathJobs, page, limit), nil)
}

// Notifications fetches one page of notifications, newest first.
func (c *Client) Notifications(ctx context.Context, page, limit int) gateway.Outcome {
	return c.gw.Call(ctx, http.MethodGet, paged(PathNotifications, page, limit), nil)
}

// UnreadCount fetches the unread notification count.
func (c *Client) UnreadCount(ctx context.Context) gateway.Outcome {
	return c.gw.Call(ctx, http.MethodGet, PathUnreadCount, nil)
}

// MarkRead marks one notification read.
func (c *Client) MarkRead(ctx context.Context, id string) gateway.Outcome {
	return c.gw.Call(ctx, http.MethodPatch, notificationPathPrefix+url.PathEscape(id)+"/read", nil)
}

// MarkAllRead marks every notification read.
func (c *Client) MarkAllRead(ctx context.Context) gateway.Outcome {
	return c.gw.Call(ctx, http.MethodPatch, PathMarkAllRead, nil)
}

// DeleteNotification removes one notification.
func (c *Client) DeleteNotification(ctx context.Context, id string) gateway.Outcome {
	return c.gw.Call(ctx, http.MethodDelete, notificationPathPrefix+url.PathEscape(id), nil)
}

func paged(path string, page, limit int) string {
	if page < 1 {
		page = 1
	}
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return fmt.Sprintf("%s?%s", path, q.Encode())
}

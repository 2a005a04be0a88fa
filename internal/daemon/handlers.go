package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// errNoController is returned by every handler when the daemon has no agent.
var errNoController = errors.New("no controller available")

// handleRequest dispatches the request to the appropriate handler.
func (d *Daemon) handleRequest(ctx context.Context, req *Request) Response {
	if d.controller == nil {
		if isKnownMethod(req.Method) {
			return Response{Error: errNoController.Error()}
		}
		return Response{Error: fmt.Sprintf("unknown method: %s", req.Method)}
	}

	switch req.Method {
	case MethodStatus:
		return d.handleStatus()
	case MethodNotifications:
		return d.handleNotifications(req)
	case MethodMarkRead:
		return d.handleMarkRead(ctx, req)
	case MethodMarkAllRead:
		return d.handleMarkAllRead(ctx)
	case MethodDelete:
		return d.handleDelete(ctx, req)
	case MethodReconnect:
		return d.handleReconnect()
	case MethodStop:
		return d.handleStop(req)
	default:
		return Response{Error: fmt.Sprintf("unknown method: %s", req.Method)}
	}
}

func isKnownMethod(method string) bool {
	switch method {
	case MethodStatus, MethodNotifications, MethodMarkRead, MethodMarkAllRead,
		MethodDelete, MethodReconnect, MethodStop:
		return true
	}
	return false
}

// decodeParams converts the generic params map into v.
func decodeParams(req *Request, v any) error {
	if req.Params == nil {
		return nil
	}
	data, err := json.Marshal(req.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}

// handleStatus returns the current agent status.
func (d *Daemon) handleStatus() Response {
	st := d.controller.Status()

	d.mu.RLock()
	startTime := d.startTime
	d.mu.RUnlock()

	resp := StatusResponse{
		Phase:            string(st.Realtime.Phase),
		Connected:        st.Realtime.Connected,
		RealtimeEnabled:  st.RealtimeEnabled,
		Attempt:          st.Realtime.Attempt,
		LastError:        st.Realtime.LastError,
		Authenticated:    st.Authenticated,
		Role:             string(st.Role),
		UnreadCount:      st.UnreadCount,
		Notifications:    st.Notifications,
		TelemetryDropped: st.TelemetryDropped,
		Uptime:           time.Since(startTime).Truncate(time.Second).String(),
		StartTime:        startTime.Format(time.RFC3339),
	}
	if !st.Realtime.Since.IsZero() {
		resp.PhaseSince = st.Realtime.Since.Format(time.RFC3339)
	}
	return Response{Result: resp}
}

// handleNotifications returns the newest feed entries.
func (d *Daemon) handleNotifications(req *Request) Response {
	var params NotificationsParams
	if err := decodeParams(req, &params); err != nil {
		return Response{Error: err.Error()}
	}

	items, unread := d.controller.Notifications(params.Limit)
	return Response{Result: NotificationsResponse{Notifications: items, UnreadCount: unread}}
}

// handleMarkRead marks one notification read on the backend and in the feed.
func (d *Daemon) handleMarkRead(ctx context.Context, req *Request) Response {
	id, errResp := requireID(req)
	if errResp != nil {
		return *errResp
	}
	if err := d.controller.MarkRead(ctx, id); err != nil {
		return Response{Error: err.Error()}
	}
	return Response{Result: "marked read"}
}

// handleMarkAllRead marks every notification read.
func (d *Daemon) handleMarkAllRead(ctx context.Context) Response {
	if err := d.controller.MarkAllRead(ctx); err != nil {
		return Response{Error: err.Error()}
	}
	return Response{Result: "marked all read"}
}

// handleDelete removes one notification.
func (d *Daemon) handleDelete(ctx context.Context, req *Request) Response {
	id, errResp := requireID(req)
	if errResp != nil {
		return *errResp
	}
	if err := d.controller.Delete(ctx, id); err != nil {
		return Response{Error: err.Error()}
	}
	return Response{Result: "deleted"}
}

func requireID(req *Request) (string, *Response) {
	var params IDParams
	if err := decodeParams(req, &params); err != nil {
		return "", &Response{Error: err.Error()}
	}
	id := strings.TrimSpace(params.ID)
	if id == "" {
		return "", &Response{Error: "missing notification id"}
	}
	return id, nil
}

// handleReconnect restarts the realtime session with a fresh attempt budget.
func (d *Daemon) handleReconnect() Response {
	if err := d.controller.Reconnect(); err != nil {
		return Response{Error: err.Error()}
	}
	return Response{Result: "reconnecting"}
}

// handleStop requests the controller to stop and schedules daemon shutdown.
func (d *Daemon) handleStop(req *Request) Response {
	var params StopParams
	if err := decodeParams(req, &params); err != nil {
		return Response{Error: err.Error()}
	}

	d.controller.Stop()

	// Schedule daemon shutdown after the response is written
	go func() {
		if params.Force {
			time.Sleep(50 * time.Millisecond)
		} else {
			time.Sleep(100 * time.Millisecond)
		}
		_ = d.Stop()
	}()

	return Response{Result: "stopping"}
}

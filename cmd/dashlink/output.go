package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/npratt/dashlink/internal/adminapi"
	"github.com/npratt/dashlink/internal/daemon"
	"github.com/npratt/dashlink/internal/feed"
)

func field(label, value string) string {
	return styles.Label.Render(fmt.Sprintf("%-14s", label)) + value + "\n"
}

// formatStatus renders a status response for humans.
func formatStatus(st *daemon.StatusResponse) string {
	var b strings.Builder

	phase := phaseStyle(st.Phase).Render(st.Phase)
	switch {
	case !st.RealtimeEnabled:
		phase = styles.Muted.Render("disabled")
	case st.Attempt > 0:
		phase += styles.Muted.Render(fmt.Sprintf(" (attempt %d)", st.Attempt))
	}
	b.WriteString(field("Realtime:", phase))
	if st.LastError != "" {
		b.WriteString(field("Last error:", styles.Error.Render(st.LastError)))
	}

	session := styles.Muted.Render("signed out")
	if st.Authenticated {
		session = st.Role
	}
	b.WriteString(field("Session:", session))

	unread := fmt.Sprintf("%d", st.UnreadCount)
	if st.UnreadCount > 0 {
		unread = styles.Unread.Render(unread)
	}
	b.WriteString(field("Unread:", fmt.Sprintf("%s of %d loaded", unread, st.Notifications)))

	if st.TelemetryDropped > 0 {
		b.WriteString(field("Dropped:", styles.Warn.Render(fmt.Sprintf("%d telemetry events", st.TelemetryDropped))))
	}
	b.WriteString(field("Uptime:", st.Uptime))
	b.WriteString(field("Started:", st.StartTime))
	return b.String()
}

// notificationFields are the display fields the backend puts on a notification.
type notificationFields struct {
	Title     string `json:"title"`
	Message   string `json:"message"`
	Type      string `json:"type"`
	CreatedAt string `json:"createdAt"`
}

// notificationSummary picks a one-line description from the payload.
func notificationSummary(n feed.Notification) string {
	var f notificationFields
	_ = json.Unmarshal(n.Payload, &f)

	summary := f.Title
	if summary == "" {
		summary = f.Message
	}
	if summary == "" {
		summary = f.Type
	}
	if summary == "" {
		summary = "(no title)"
	}
	return summary
}

// formatNotifications renders the feed newest first.
func formatNotifications(items []feed.Notification, unread int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s unread\n", styles.Unread.Render(fmt.Sprintf("%d", unread)))
	if len(items) == 0 {
		b.WriteString(styles.Muted.Render("No notifications") + "\n")
		return b.String()
	}
	for _, n := range items {
		marker := styles.Unread.Render("●")
		if n.Read {
			marker = styles.Muted.Render("○")
		}
		fmt.Fprintf(&b, "%s %s  %s\n", marker, styles.Muted.Render(n.ID), notificationSummary(n))
	}
	return b.String()
}

// listPayload is the shape of the applications and jobs list endpoints.
type listPayload struct {
	Applications []json.RawMessage `json:"applications"`
	Jobs         []json.RawMessage `json:"jobs"`
	Total        int               `json:"total"`
}

// formatDashboard renders the aggregate dashboard for humans.
func formatDashboard(d adminapi.Dashboard) string {
	var b strings.Builder

	var stats map[string]any
	_ = json.Unmarshal(d.Stats, &stats)
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		b.WriteString(field(k+":", fmt.Sprint(stats[k])))
	}

	var apps, jobs listPayload
	_ = json.Unmarshal(d.RecentApplications, &apps)
	_ = json.Unmarshal(d.RecentJobs, &jobs)
	b.WriteString(field("Applications:", fmt.Sprintf("%d recent of %d", len(apps.Applications), apps.Total)))
	b.WriteString(field("Jobs:", fmt.Sprintf("%d recent of %d", len(jobs.Jobs), jobs.Total)))
	b.WriteString(field("Unread:", fmt.Sprintf("%d", d.UnreadCount)))

	if d.Degraded {
		b.WriteString(styles.Warn.Render("Some sections show fallback data:") + "\n")
		for _, f := range d.Failures {
			fmt.Fprintf(&b, "  %s %s\n", styles.Muted.Render(f.Endpoint), styles.Error.Render(f.Message))
		}
	}
	return b.String()
}

// formatEventLine renders one telemetry JSON line in a human-readable format.
func formatEventLine(line string) string {
	var event map[string]any
	if err := json.Unmarshal([]byte(line), &event); err != nil {
		return line
	}

	// Format: [timestamp] type: detail
	timestamp := ""
	if ts, ok := event["timestamp"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			timestamp = t.Format("15:04:05")
		} else {
			timestamp = ts
		}
	}

	eventType, _ := event["type"].(string)
	str := func(k string) string {
		s, _ := event[k].(string)
		return s
	}
	num := func(k string) int {
		n, _ := event[k].(float64)
		return int(n)
	}

	var detail string
	switch eventType {
	case "realtime.phase":
		detail = fmt.Sprintf("%s -> %s", str("from"), str("to"))
		if a := num("attempt"); a > 0 {
			detail += fmt.Sprintf(" (attempt %d)", a)
		}
	case "realtime.transport_error":
		detail = fmt.Sprintf("%s: %s", str("reason"), str("error"))
	case "gateway.retry":
		detail = fmt.Sprintf("%s attempt %d: %s", str("endpoint"), num("attempt"), str("error"))
	case "gateway.failure":
		detail = fmt.Sprintf("%s: %s", str("endpoint"), str("message"))
		if fb, _ := event["fallback"].(bool); fb {
			detail += " (fallback)"
		}
	case "auth.changed":
		if ok, _ := event["authenticated"].(bool); ok {
			detail = "signed in as " + str("role")
		} else {
			detail = "signed out"
		}
	case "feed.synced":
		detail = fmt.Sprintf("%d notifications", num("count"))
	default:
		detail = str("message")
	}

	if detail != "" {
		return fmt.Sprintf("[%s] %s: %s", timestamp, eventType, detail)
	}
	return fmt.Sprintf("[%s] %s", timestamp, eventType)
}

// tailLast writes the last n lines of the telemetry file.
func tailLast(w io.Writer, path string, n int) error {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintln(w, "No events yet (telemetry file does not exist)")
			return nil
		}
		return fmt.Errorf("open telemetry file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read telemetry file: %w", err)
	}

	if len(lines) == 0 {
		fmt.Fprintln(w, "No events yet")
		return nil
	}

	start := max(len(lines)-n, 0)
	for _, line := range lines[start:] {
		fmt.Fprintln(w, formatEventLine(line))
	}
	return nil
}

// waitForFile waits for a file to be created and returns the opened file.
func waitForFile(ctx context.Context, path string) (*os.File, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(500 * time.Millisecond):
			file, err := os.Open(path)
			if err == nil {
				return file, nil
			}
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("open file: %w", err)
			}
		}
	}
}

// tailFollow follows the telemetry file and writes new lines as they appear.
func tailFollow(ctx context.Context, w io.Writer, path string) error {
	file, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("open telemetry file: %w", err)
		}
		fmt.Fprintln(w, "Waiting for telemetry file to be created...")
		file, err = waitForFile(ctx, path)
		if err != nil {
			return err
		}
	}
	defer func() { _ = file.Close() }()

	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("seek to end: %w", err)
	}

	fmt.Fprintln(w, "Following events (Ctrl+C to stop)...")
	reader := bufio.NewReader(file)
	var pending string
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			line, err := reader.ReadString('\n')
			pending += line
			if err != nil {
				if err == io.EOF {
					// Partial line stays pending until the writer finishes it
					time.Sleep(100 * time.Millisecond)
					continue
				}
				return fmt.Errorf("read telemetry: %w", err)
			}
			fmt.Fprintln(w, formatEventLine(strings.TrimSuffix(pending, "\n")))
			pending = ""
		}
	}
}

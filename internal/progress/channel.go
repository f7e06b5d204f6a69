/*
PURPOSE:
  Subscribes to the backend's per-job WebSocket progress channel and turns
  inbound frames into a typed Event stream.

REQUIREMENTS:
  User-specified:
  - Zero or more progress events followed by exactly one terminal event.
  - A malformed frame must not tear down the channel.
  - Channel health is reported separately from job status.

  Implementation-discovered:
  - A server-side close right after the terminal event is a normal end.
  - Unknown event types are forward-compatible: logged and dropped.

ARCHITECTURE INTEGRATION:
  - Called by: internal/orchestrator (through Subscribe)
  - Uses: github.com/gorilla/websocket, internal/metrics, internal/output

ERROR HANDLING:
  - Dial errors are returned to the caller.
  - Read errors end the Events() stream; Err() tells a client close (nil)
    from an unexpected one.

IMPLEMENTATION RULES:
  - One reader goroutine per connection (gorilla/websocket requirement).
  - Close() is idempotent and safe from any goroutine.
*/

package progress

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/daryltucker/verification-runner/internal/metrics"
	"github.com/daryltucker/verification-runner/internal/output"
)

// Health is the state of the push connection, independent of job status.
type Health string

const (
	HealthConnecting   Health = "connecting"
	HealthOpen         Health = "open"
	HealthDisconnected Health = "disconnected"
	HealthClosed       Health = "closed"
)

// Stream is the consumer side of a progress subscription.
type Stream interface {
	Events() <-chan Event
	Err() error
	Health() Health
	Close() error
}

// URL maps the backend base URL onto the job's WebSocket address.
func URL(serverURL, jobID string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server url %q: %w", serverURL, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/verification-progress/" + url.PathEscape(jobID)
	u.RawQuery = ""
	return u.String(), nil
}

// Dialer opens progress channels against one backend.
type Dialer struct {
	ServerURL string
	Header    http.Header
	ws        *websocket.Dialer
}

// NewDialer creates a Dialer whose handshake is bounded by handshakeTimeout.
func NewDialer(serverURL string, handshakeTimeout time.Duration) *Dialer {
	return &Dialer{
		ServerURL: serverURL,
		ws: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
	}
}

// Dial connects to the job's channel and starts the read loop.
func (d *Dialer) Dial(ctx context.Context, jobID string) (*Channel, error) {
	addr, err := URL(d.ServerURL, jobID)
	if err != nil {
		return nil, err
	}
	conn, resp, err := d.ws.DialContext(ctx, addr, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("progress channel handshake failed (%s): %w", resp.Status, err)
		}
		return nil, fmt.Errorf("progress channel dial failed: %w", err)
	}
	output.Logger.Debug("Progress channel open", "job_id", jobID, "url", addr)
	return newChannel(conn, jobID), nil
}

// Subscribe is Dial returning the Stream interface.
func (d *Dialer) Subscribe(ctx context.Context, jobID string) (Stream, error) {
	ch, err := d.Dial(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// Channel is one live progress subscription.
type Channel struct {
	conn  *websocket.Conn
	jobID string

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	health   Health
	err      error
	closing  bool
	terminal bool
}

func newChannel(conn *websocket.Conn, jobID string) *Channel {
	c := &Channel{
		conn:   conn,
		jobID:  jobID,
		events: make(chan Event, 64),
		done:   make(chan struct{}),
		health: HealthOpen,
	}
	go c.readLoop()
	return c
}

// Events yields decoded events in arrival order. It is closed when the socket ends.
func (c *Channel) Events() <-chan Event {
	return c.events
}

// Err is the reason the stream ended unexpectedly, or nil.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Channel) Health() Health {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.health
}

// Close ends the subscription from the client side.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closing = true
		c.mu.Unlock()
		close(c.done)

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = c.conn.Close()

		c.mu.Lock()
		c.health = HealthClosed
		c.mu.Unlock()
	})
	return err
}

func (c *Channel) readLoop() {
	defer close(c.events)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.finish(err)
			return
		}

		ev, err := Decode(data)
		if err != nil {
			var unknown *UnknownEventError
			if errors.As(err, &unknown) {
				output.Logger.Info("Ignoring unknown progress event", "job_id", c.jobID, "type", unknown.Type)
				metrics.FramesDropped.WithLabelValues(metrics.ReasonUnknownType).Inc()
				continue
			}
			output.Logger.Warn("Skipping malformed progress frame", "job_id", c.jobID, "error", err, "frame", truncate(data, 256))
			metrics.FramesDropped.WithLabelValues(metrics.ReasonMalformed).Inc()
			continue
		}
		metrics.ProgressEvents.WithLabelValues(string(ev.Type())).Inc()

		if IsTerminal(ev) {
			c.mu.Lock()
			c.terminal = true
			c.mu.Unlock()
		}

		select {
		case c.events <- ev:
		case <-c.done:
			return
		}
	}
}

func (c *Channel) finish(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closing || c.terminal {
		c.health = HealthClosed
		return
	}
	c.health = HealthDisconnected
	c.err = err
	output.Logger.Warn("Progress channel closed before a terminal event", "job_id", c.jobID, "error", err)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

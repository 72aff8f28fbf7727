// Package client talks to a Sand Garden over its HTTP API.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/chaz8081/sandgarden/internal/ble/protocol"
)

// DefaultChunkSize is the body size of one /api/script/chunk request.
const DefaultChunkSize = 512

// APIError is a non-2xx response. Message is the "error" field of the JSON
// body when present.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("client: HTTP %d: %s", e.Status, e.Message)
}

// State mirrors GET /api/state.
type State struct {
	SpeedMultiplier float64 `json:"speedMultiplier"`
	Pattern         int     `json:"pattern"`
	AutoMode        bool    `json:"autoMode"`
	Running         bool    `json:"running"`
	LedEffect       uint8   `json:"ledEffect"`
	LedColorR       uint8   `json:"ledColorR"`
	LedColorG       uint8   `json:"ledColorG"`
	LedColorB       uint8   `json:"ledColorB"`
	LedBrightness   uint8   `json:"ledBrightness"`
}

// Options configures a Client. Zero fields take the defaults.
type Options struct {
	HTTPClient *http.Client
	Timeout    time.Duration // per request, ignored for Events
	ChunkSize  int
}

// Client is safe for concurrent use, but uploads share one transfer slot on
// the device: concurrent uploads preempt each other.
type Client struct {
	base      string
	http      *http.Client
	timeout   time.Duration
	chunkSize int
}

// New returns a client for the garden at baseURL, e.g. "http://garden.local".
func New(baseURL string, opts Options) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	return &Client{
		base:      strings.TrimRight(baseURL, "/"),
		http:      opts.HTTPClient,
		timeout:   opts.Timeout,
		chunkSize: opts.ChunkSize,
	}
}

// State fetches the current settings.
func (c *Client) State(ctx context.Context) (State, error) {
	var st State
	err := c.do(ctx, http.MethodGet, "/api/state", nil, "", &st)
	return st, err
}

func (c *Client) SetSpeed(ctx context.Context, v float64) error {
	return c.postJSON(ctx, "/api/speed", map[string]any{"value": v})
}

func (c *Client) SetPattern(ctx context.Context, pattern int) error {
	return c.postJSON(ctx, "/api/pattern", map[string]any{"value": pattern})
}

func (c *Client) SetAutoMode(ctx context.Context, auto bool) error {
	return c.postJSON(ctx, "/api/mode", map[string]any{"value": auto})
}

func (c *Client) SetRunState(ctx context.Context, running bool) error {
	return c.postJSON(ctx, "/api/run", map[string]any{"value": running})
}

func (c *Client) SetLedEffect(ctx context.Context, effect uint8) error {
	return c.postJSON(ctx, "/api/led/effect", map[string]any{"value": effect})
}

func (c *Client) SetLedColor(ctx context.Context, r, g, b uint8) error {
	return c.postJSON(ctx, "/api/led/color", map[string]any{"r": r, "g": g, "b": b})
}

func (c *Client) SetLedBrightness(ctx context.Context, brightness uint8) error {
	return c.postJSON(ctx, "/api/led/brightness", map[string]any{"value": brightness})
}

// Command sends a generic command token such as "HOME".
func (c *Client) Command(ctx context.Context, cmd string) error {
	return c.postJSON(ctx, "/api/command", map[string]any{"command": cmd})
}

// ResetScript aborts any upload in progress on the device.
func (c *Client) ResetScript(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/script/reset", nil, "", nil)
}

// Upload sends script with BEGIN, CHUNK and END requests. A negative slot
// uploads without one. A failed chunk or END aborts the device session.
func (c *Client) Upload(ctx context.Context, script []byte, slot int) error {
	if len(script) == 0 {
		return errors.New("client: empty script")
	}

	begin := map[string]any{"length": len(script)}
	if slot >= 0 {
		begin["slot"] = slot
	}
	if err := c.postJSON(ctx, "/api/script/begin", begin); err != nil {
		return fmt.Errorf("client: begin: %w", err)
	}

	chunks := protocol.ChunkScript(script, c.chunkSize)
	for i, chunk := range chunks {
		if err := c.do(ctx, http.MethodPost, "/api/script/chunk", chunk, "text/plain", nil); err != nil {
			c.abort()
			return fmt.Errorf("client: chunk %d/%d: %w", i+1, len(chunks), err)
		}
	}
	if err := c.do(ctx, http.MethodPost, "/api/script/end", nil, "", nil); err != nil {
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			c.abort()
		}
		return fmt.Errorf("client: end: %w", err)
	}
	slog.Debug("[HTTP] script uploaded", "bytes", len(script), "chunks", len(chunks), "slot", slot)
	return nil
}

// abort resets the device session on a fresh context so a cancelled upload
// still cleans up.
func (c *Client) abort() {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if err := c.ResetScript(ctx); err != nil {
		slog.Debug("[HTTP] script reset after failed upload", "error", err)
	}
}

// Events streams Server-Sent Events to fn until ctx is done or the server
// closes the stream.
func (c *Client) Events(ctx context.Context, fn func(event, data string)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/events", http.NoBody)
	if err != nil {
		return fmt.Errorf("client: build request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("client: events: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}

	var event string
	var data []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if event != "" || len(data) > 0 {
				if event == "" {
					event = "message"
				}
				fn(event, strings.Join(data, "\n"))
			}
			event, data = "", nil
		case strings.HasPrefix(line, ":"):
			// keepalive
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("client: events: %w", err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, body any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("client: encode %s: %w", path, err)
	}
	return c.do(ctx, http.MethodPost, path, b, "application/json", nil)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, contentType string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var rd io.Reader = http.NoBody
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return fmt.Errorf("client: build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return responseError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decode %s: %w", path, err)
	}
	return nil
}

func responseError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	var body struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}

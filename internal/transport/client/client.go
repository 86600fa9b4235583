// Package client is a store.Store that talks to a remote liftsim API over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"liftsim/internal/protocol"
	"liftsim/internal/store"
)

// ErrCarBusy is returned by the hosted car calls while another run holds the car.
var ErrCarBusy = errors.New("remote car is busy")

type Config struct {
	BaseURL string
	// Timeout bounds each HTTP round trip. Zero means 5s.
	Timeout time.Duration
	// ReadRetries is how many extra attempts a list or state read gets after
	// a transport failure. Mutations are never retried: a delete that timed
	// out may still have been applied.
	ReadRetries  int
	RetryBackoff time.Duration

	HTTPClient *http.Client
}

type Client struct {
	base        string
	http        *http.Client
	readRetries int
	backoff     time.Duration
}

var (
	_ store.Store   = (*Client)(nil)
	_ store.Clearer = (*Client)(nil)
)

func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("missing base url")
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		return nil, fmt.Errorf("base url must be http(s): %q", cfg.BaseURL)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	retries := cfg.ReadRetries
	if retries < 0 {
		retries = 0
	}
	return &Client{base: base, http: hc, readRetries: retries, backoff: backoff}, nil
}

func (c *Client) BaseURL() string { return c.base }

func (c *Client) Health(ctx context.Context) error {
	var out struct {
		OK bool `json:"ok"`
	}
	if err := c.read(ctx, "/health", &out); err != nil {
		return err
	}
	if !out.OK {
		return fmt.Errorf("%w: health reported not ok", store.ErrTransportUnavailable)
	}
	return nil
}

func (c *Client) ListRequests(ctx context.Context) ([]protocol.Passenger, error) {
	var out []protocol.Passenger
	if err := c.read(ctx, "/requests", &out); err != nil {
		return nil, err
	}
	return nonNil(out), nil
}

func (c *Client) ListRiders(ctx context.Context) ([]protocol.Passenger, error) {
	var out []protocol.Passenger
	if err := c.read(ctx, "/riders", &out); err != nil {
		return nil, err
	}
	return nonNil(out), nil
}

func (c *Client) State(ctx context.Context) (protocol.State, error) {
	var out protocol.State
	if err := c.read(ctx, "/state", &out); err != nil {
		return protocol.State{}, err
	}
	out.Requests = nonNil(out.Requests)
	out.Riders = nonNil(out.Riders)
	return out, nil
}

func (c *Client) AppendRequest(ctx context.Context, p protocol.Passenger) (protocol.Passenger, error) {
	return c.append(ctx, "/requests", p)
}

func (c *Client) AppendRider(ctx context.Context, p protocol.Passenger) (protocol.Passenger, error) {
	return c.append(ctx, "/riders", p)
}

func (c *Client) append(ctx context.Context, path string, p protocol.Passenger) (protocol.Passenger, error) {
	if err := store.Validate(p); err != nil {
		return protocol.Passenger{}, err
	}
	var out protocol.Passenger
	if err := c.do(ctx, http.MethodPost, path, p, &out); err != nil {
		return protocol.Passenger{}, err
	}
	return out, nil
}

func (c *Client) DeleteRequestAt(ctx context.Context, i int) (protocol.Passenger, error) {
	return c.deleteAt(ctx, "/requests/", i)
}

func (c *Client) DeleteRiderAt(ctx context.Context, i int) (protocol.Passenger, error) {
	return c.deleteAt(ctx, "/riders/", i)
}

func (c *Client) deleteAt(ctx context.Context, prefix string, i int) (protocol.Passenger, error) {
	var out protocol.Passenger
	if err := c.do(ctx, http.MethodDelete, prefix+strconv.Itoa(i), nil, &out); err != nil {
		return protocol.Passenger{}, err
	}
	return out, nil
}

func (c *Client) Reset(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/reset", nil, nil)
}

func (c *Client) ClearRequests(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/requests", nil, nil)
}

func (c *Client) ClearRiders(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/riders", nil, nil)
}

// CarState reads the hosted car.
func (c *Client) CarState(ctx context.Context) (protocol.CarState, error) {
	var out protocol.CarState
	err := c.read(ctx, "/car", &out)
	return out, err
}

// DispatchCar asks the server's hosted car to run and waits for it to finish.
func (c *Client) DispatchCar(ctx context.Context) (protocol.CarState, error) {
	var out protocol.CarState
	err := c.do(ctx, http.MethodPost, "/car/dispatch", nil, &out)
	return out, err
}

func (c *Client) ResetCar(ctx context.Context) (protocol.CarState, error) {
	var out protocol.CarState
	err := c.do(ctx, http.MethodPost, "/car/reset", nil, &out)
	return out, err
}

// Snapshot asks the server to write a store snapshot. The server only
// accepts this from loopback clients.
func (c *Client) Snapshot(ctx context.Context) (string, error) {
	var out struct {
		OK    bool   `json:"ok"`
		Path  string `json:"path"`
		Error string `json:"error"`
	}
	if err := c.do(ctx, http.MethodPost, "/admin/v1/snapshot", nil, &out); err != nil {
		return "", err
	}
	return out.Path, nil
}

// read is a GET with the configured retries on transport failures.
func (c *Client) read(ctx context.Context, path string, out any) error {
	var err error
	for attempt := 0; attempt <= c.readRetries; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(c.backoff * time.Duration(attempt))
			select {
			case <-ctx.Done():
				t.Stop()
				return fmt.Errorf("%w: GET %s: %w", store.ErrTransportUnavailable, path, ctx.Err())
			case <-t.C:
			}
		}
		err = c.do(ctx, http.MethodGet, path, nil, out)
		if err == nil || !errors.Is(err, store.ErrTransportUnavailable) || ctx.Err() != nil {
			return err
		}
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", store.ErrTransportUnavailable, method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("%w: %s %s: read body: %w", store.ErrTransportUnavailable, method, path, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || len(bytes.TrimSpace(raw)) == 0 {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%w: %s %s: malformed response: %v", store.ErrTransportUnavailable, method, path, err)
		}
		return nil
	}
	return statusError(method, path, resp.StatusCode, raw)
}

// statusError maps a non-2xx response back onto the store sentinels.
func statusError(method, path string, status int, raw []byte) error {
	var er protocol.ErrorResponse
	_ = json.Unmarshal(raw, &er)
	perr := &protocol.Error{Status: status, Code: er.Code, Message: er.Error}
	if perr.Message == "" {
		perr.Message = strings.TrimSpace(string(raw))
	}

	var sentinel error
	switch {
	case er.Code == protocol.ErrInvalidRecord:
		sentinel = store.ErrInvalidRecord
	case er.Code == protocol.ErrIndexOutOfRange:
		sentinel = store.ErrIndexOutOfRange
	case er.Code == protocol.ErrCarBusy:
		sentinel = ErrCarBusy
	case er.Code == protocol.ErrTransportUnavailable || status >= 500:
		sentinel = store.ErrTransportUnavailable
	case status == http.StatusBadRequest && method == http.MethodPost:
		sentinel = store.ErrInvalidRecord
	case status == http.StatusNotFound && method == http.MethodDelete:
		sentinel = store.ErrIndexOutOfRange
	default:
		return fmt.Errorf("%s %s: %w", method, path, perr)
	}
	return fmt.Errorf("%w: %s %s: %w", sentinel, method, path, perr)
}

func nonNil(in []protocol.Passenger) []protocol.Passenger {
	if in == nil {
		return []protocol.Passenger{}
	}
	return in
}

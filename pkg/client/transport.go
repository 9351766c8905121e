package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aretw0/docsync/pkg/core"
)

// WSDialer dials the live channel with gorilla/websocket.
type WSDialer struct {
	URL    string
	Header http.Header
	Dialer *websocket.Dialer
}

// Dial implements Dialer.
func (d *WSDialer) Dial(ctx context.Context) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	}
	conn, _, err := dialer.DialContext(ctx, d.URL, d.Header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// HTTPClient implements Fetcher over the JSON CRUD API.
type HTTPClient struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPClient creates a client for the API served at baseURL.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type apiResponse struct {
	Data   any               `json:"data"`
	Error  string            `json:"error"`
	Errors []core.FieldError `json:"errors"`
}

// Get implements Fetcher.
func (c *HTTPClient) Get(ctx context.Context, namespace, name string) (any, error) {
	resp, err := c.do(ctx, http.MethodGet, namespace, name, nil)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Create implements Fetcher.
func (c *HTTPClient) Create(ctx context.Context, namespace, name string, data any) error {
	_, err := c.do(ctx, http.MethodPost, namespace, name, data)
	return err
}

// Update implements Fetcher.
func (c *HTTPClient) Update(ctx context.Context, namespace, name string, data any) error {
	_, err := c.do(ctx, http.MethodPut, namespace, name, data)
	return err
}

// Delete removes a document.
func (c *HTTPClient) Delete(ctx context.Context, namespace, name string) error {
	_, err := c.do(ctx, http.MethodDelete, namespace, name, nil)
	return err
}

func (c *HTTPClient) do(ctx context.Context, method, namespace, name string, data any) (*apiResponse, error) {
	endpoint := c.BaseURL + "/documents/" + url.PathEscape(namespace) + "/" + url.PathEscape(name)

	var body io.Reader
	if data != nil {
		raw, err := json.Marshal(map[string]any{"data": data})
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode response (%d): %w", resp.StatusCode, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return &out, nil
	case http.StatusNotFound:
		return nil, fmt.Errorf("%s/%s: %w", namespace, name, core.ErrNotFound)
	case http.StatusConflict:
		return nil, fmt.Errorf("%s/%s: %w", namespace, name, core.ErrAlreadyExists)
	case http.StatusBadRequest:
		if len(out.Errors) > 0 {
			return nil, &core.ValidationError{Errors: out.Errors}
		}
		return nil, fmt.Errorf("%s/%s: bad request: %s", namespace, name, out.Error)
	default:
		return nil, fmt.Errorf("%s %s: status %d: %s", method, endpoint, resp.StatusCode, out.Error)
	}
}

var (
	_ Fetcher = (*HTTPClient)(nil)
	_ Dialer  = (*WSDialer)(nil)
)

// Package rest is the shared HTTP plumbing for the platform service
// clients: JSON requests, bearer auth, gzip response decoding and error
// translation.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/valyala/fastjson"
)

// HTTPError is a non-2xx response from a platform service, carrying the
// machine-readable error code when the body provides one.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s. Received response %s with status code %d", e.Message, e.Code, e.StatusCode)
	}
	return fmt.Sprintf("%s. Received status code %d", e.Message, e.StatusCode)
}

// TokenSource supplies bearer tokens for outgoing requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client issues JSON requests against one service's base URL.
type Client struct {
	BaseURL string
	Tokens  TokenSource
	HTTP    *http.Client

	errParsers fastjson.ParserPool
}

// NewClient builds a service client. The underlying http.Client has its
// transparent compression disabled: we advertise gzip ourselves and decode
// with the faster decompressor.
func NewClient(baseURL string, tokens TokenSource) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Tokens:  tokens,
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				DisableCompression: true,
			},
		},
	}
}

// Do sends one request. A non-nil body is encoded as JSON; a non-nil out is
// decoded from the response body. Non-2xx responses are returned as
// *HTTPError with the raw body retained for callers needing error details.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	_, err := c.DoRaw(ctx, method, path, query, body, out)
	return err
}

// DoRaw is Do, additionally returning the raw response body. Used by
// callers that parse responses themselves or inspect error payloads.
func (c *Client) DoRaw(ctx context.Context, method, path string, query url.Values, body, out any) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(data)
	}

	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "gzip")

	if c.Tokens != nil {
		token, err := c.Tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("obtaining access token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := readBody(resp)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return respBody, c.httpError(resp.StatusCode, respBody)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return respBody, fmt.Errorf("decoding response: %w", err)
		}
	}
	return respBody, nil
}

func readBody(resp *http.Response) ([]byte, error) {
	reader := resp.Body
	if strings.Contains(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("decoding gzip response: %w", err)
		}
		defer gz.Close()
		reader = gz
	}
	return io.ReadAll(reader)
}

// httpError parses the service error envelope {"error": ..., "errorCode":
// ...}, falling back to the status text for non-JSON bodies.
func (c *Client) httpError(status int, body []byte) error {
	httpErr := &HTTPError{StatusCode: status, Message: http.StatusText(status)}

	p := c.errParsers.Get()
	defer c.errParsers.Put(p)

	v, err := p.ParseBytes(body)
	if err == nil {
		if msg := v.GetStringBytes("error"); len(msg) > 0 {
			httpErr.Message = string(msg)
		}
		if code := v.GetStringBytes("errorCode"); len(code) > 0 {
			httpErr.Code = string(code)
		}
	}
	return httpErr
}

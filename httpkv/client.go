package httpkv

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/carlmjohnson/requests"

	"github.com/kjk/easystore/kv"
)

const DefaultTimeout = 10 * time.Second

// Client is a kv.Backend talking to a Server
type Client struct {
	// e.g. "https://example.com/kv"
	BaseURL string
	ApiKey  string
	// http.DefaultClient if nil
	HTTPClient *http.Client
	// timeout of a single request, DefaultTimeout if 0
	Timeout time.Duration
}

var (
	_ kv.Backend   = &Client{}
	_ kv.KeyLister = &Client{}
)

func NewClient(baseURL string) *Client {
	return &Client{BaseURL: baseURL}
}

func joinURL(s1, s2 string) string {
	if strings.HasSuffix(s1, "/") {
		if strings.HasPrefix(s2, "/") {
			return s1 + s2[1:]
		}
		return s1 + s2
	}
	if strings.HasPrefix(s2, "/") {
		return s1 + s2
	}
	return s1 + "/" + s2
}

func (c *Client) request(path string) *requests.Builder {
	r := requests.URL(joinURL(c.BaseURL, path))
	if c.HTTPClient != nil {
		r = r.Client(c.HTTPClient)
	}
	if c.ApiKey != "" {
		r = r.Header(apiKeyHeader, c.ApiKey)
	}
	return r
}

func (c *Client) ctx() (context.Context, context.CancelFunc) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return context.WithTimeout(context.Background(), timeout)
}

// isMissing is true for 404 sent by the server for a missing item or key.
// Other 404s, e.g. for a wrong BaseURL, are errors.
func isMissing(err error, h http.Header) bool {
	return requests.HasStatusErr(err, http.StatusNotFound) && h.Get(missingHeader) != ""
}

func (c *Client) GetItem(key string) (string, bool, error) {
	ctx, cancel := c.ctx()
	defer cancel()
	var v string
	h := http.Header{}
	err := c.request("/item").
		Param("key", key).
		CopyHeaders(h).
		CheckStatus(http.StatusOK).
		ToString(&v).
		Fetch(ctx)
	if isMissing(err, h) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("httpkv get %s: %w", key, err)
	}
	return v, true, nil
}

func (c *Client) SetItem(key string, value string) error {
	ctx, cancel := c.ctx()
	defer cancel()
	err := c.request("/item").
		Param("key", key).
		Put().
		BodyBytes([]byte(value)).
		ContentType("text/plain; charset=utf-8").
		Fetch(ctx)
	if err != nil {
		return fmt.Errorf("httpkv set %s: %w", key, err)
	}
	return nil
}

func (c *Client) RemoveItem(key string) error {
	ctx, cancel := c.ctx()
	defer cancel()
	if err := c.request("/item").Param("key", key).Delete().Fetch(ctx); err != nil {
		return fmt.Errorf("httpkv remove %s: %w", key, err)
	}
	return nil
}

func (c *Client) Key(index int) (string, bool, error) {
	ctx, cancel := c.ctx()
	defer cancel()
	var key string
	h := http.Header{}
	err := c.request("/key").
		Param("index", strconv.Itoa(index)).
		CopyHeaders(h).
		CheckStatus(http.StatusOK).
		ToString(&key).
		Fetch(ctx)
	if isMissing(err, h) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("httpkv key at %d: %w", index, err)
	}
	return key, true, nil
}

func (c *Client) Len() (int, error) {
	ctx, cancel := c.ctx()
	defer cancel()
	var n int
	if err := c.request("/len").ToJSON(&n).Fetch(ctx); err != nil {
		return 0, fmt.Errorf("httpkv len: %w", err)
	}
	return n, nil
}

func (c *Client) Keys() ([]string, error) {
	ctx, cancel := c.ctx()
	defer cancel()
	var keys []string
	if err := c.request("/keys").ToJSON(&keys).Fetch(ctx); err != nil {
		return nil, fmt.Errorf("httpkv keys: %w", err)
	}
	return keys, nil
}

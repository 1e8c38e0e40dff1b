package httpkv

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alecthomas/assert"
	"github.com/carlmjohnson/requests"

	"github.com/kjk/easystore/kv"
	"github.com/kjk/easystore/kv/kvtest"
	"github.com/kjk/easystore/log"
)

func quietLogs(t *testing.T) {
	prev := log.Output
	log.Output = io.Discard
	t.Cleanup(func() { log.Output = prev })
}

func newTestClient(t *testing.T, srv *Server) *Client {
	t.Helper()
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	c := NewClient(ts.URL)
	c.HTTPClient = ts.Client()
	return c
}

func TestConformance(t *testing.T) {
	quietLogs(t)
	kvtest.Run(t, func(t *testing.T) kv.Backend {
		return newTestClient(t, &Server{Backend: kv.NewMemory()})
	}, kvtest.Options{InsertionOrder: true})
}

func TestBaseURLWithPath(t *testing.T) {
	quietLogs(t)
	mux := http.NewServeMux()
	mux.Handle("/kv/", http.StripPrefix("/kv", Handler(kv.NewMemory())))
	ts := httptest.NewServer(mux)
	defer ts.Close()

	for _, base := range []string{ts.URL + "/kv", ts.URL + "/kv/"} {
		c := NewClient(base)
		assert.NoError(t, c.SetItem("k", "v"))
		v, ok, err := c.GetItem("k")
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "v", v)
	}
}

func TestApiKey(t *testing.T) {
	quietLogs(t)
	c := newTestClient(t, &Server{Backend: kv.NewMemory(), ApiKey: "secret"})
	err := c.SetItem("k", "v")
	assert.Error(t, err)
	for _, key := range []string{"secre", "secret2", "SECRET"} {
		c.ApiKey = key
		err = c.SetItem("k", "v")
		assert.True(t, requests.HasStatusErr(err, http.StatusUnauthorized), key)
	}
	c.ApiKey = "secret"
	assert.NoError(t, c.SetItem("k", "v"))

	assert.True(t, validApiKey("secret", "secret"))
	assert.False(t, validApiKey("", "secret"))
	assert.False(t, validApiKey("secret ", "secret"))
}

func TestWrongBaseURL(t *testing.T) {
	quietLogs(t)
	mux := http.NewServeMux()
	mux.Handle("/kv/", http.StripPrefix("/kv", Handler(kv.NewMemory())))
	ts := httptest.NewServer(mux)
	defer ts.Close()

	c := NewClient(ts.URL + "/kv")
	_, ok, err := c.GetItem("missing")
	assert.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = c.Key(0)
	assert.NoError(t, err)
	assert.False(t, ok)

	// 404 for the url itself is not a missing item
	c = NewClient(ts.URL + "/wrong")
	_, ok, err = c.GetItem("missing")
	assert.Error(t, err)
	assert.False(t, ok)
	assert.True(t, requests.HasStatusErr(err, http.StatusNotFound))
	_, _, err = c.Key(0)
	assert.Error(t, err)
}

func TestBadRequests(t *testing.T) {
	quietLogs(t)
	ts := httptest.NewServer(Handler(kv.NewMemory()))
	defer ts.Close()

	tests := []struct {
		method string
		path   string
		status  int
		missing bool
	}{
		{"GET", "/item", http.StatusBadRequest, false},
		{"PUT", "/item", http.StatusBadRequest, false},
		{"DELETE", "/item", http.StatusBadRequest, false},
		{"GET", "/item?key=missing", http.StatusNotFound, true},
		{"GET", "/key?index=x", http.StatusBadRequest, false},
		{"GET", "/key?index=0", http.StatusNotFound, true},
		{"GET", "/nope", http.StatusNotFound, false},
		{"POST", "/item?key=a", http.StatusMethodNotAllowed, false},
		{"GET", "/len", http.StatusOK, false},
	}
	for _, tc := range tests {
		req, err := http.NewRequest(tc.method, ts.URL+tc.path, strings.NewReader(""))
		assert.NoError(t, err)
		rsp, err := ts.Client().Do(req)
		assert.NoError(t, err)
		rsp.Body.Close()
		assert.Equal(t, tc.status, rsp.StatusCode, "%s %s", tc.method, tc.path)
		assert.Equal(t, tc.missing, rsp.Header.Get(missingHeader) != "", "%s %s", tc.method, tc.path)
	}
}

type failingBackend struct {
	kv.Memory
}

var errDiskFull = errors.New("disk full")

func (b *failingBackend) SetItem(key string, value string) error {
	return errDiskFull
}

func TestBackendErrorPropagates(t *testing.T) {
	quietLogs(t)
	c := newTestClient(t, &Server{Backend: &failingBackend{}})
	err := c.SetItem("k", "v")
	assert.Error(t, err)
	assert.True(t, requests.HasStatusErr(err, http.StatusInternalServerError), err.Error())
}

func TestGetBestRemoteAddress(t *testing.T) {
	r := httptest.NewRequest("GET", "/len", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	assert.Equal(t, "10.0.0.1:1234", getBestRemoteAddress(r))
	r.Header.Set("X-Forwarded-For", "1.2.3.4, 5.6.7.8")
	assert.Equal(t, "1.2.3.4", getBestRemoteAddress(r))
}

func TestJoinURL(t *testing.T) {
	assert.Equal(t, "http://a/kv/item", joinURL("http://a/kv", "/item"))
	assert.Equal(t, "http://a/kv/item", joinURL("http://a/kv/", "/item"))
	assert.Equal(t, "http://a/item", joinURL("http://a", "item"))
}

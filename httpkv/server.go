// Package httpkv exposes a kv.Backend over HTTP and implements kv.Backend
// as a client of such server.
//
//	GET    /item?key=<key>    value as body, 404 if there's no item
//	PUT    /item?key=<key>    body is the new value
//	DELETE /item?key=<key>
//	GET    /key?index=<n>     key at index n, 404 if out of range
//	GET    /len               number of items, as JSON
//	GET    /keys              all keys, as JSON array
//
// 404 responses for a missing item or key carry X-Kv-Missing header so that
// clients can tell them from a 404 for a wrong url.
//
// If Server.ApiKey is set, requests must send it in X-Api-Key header.
package httpkv

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kjk/easystore/kv"
	"github.com/kjk/easystore/log"
)

const (
	apiKeyHeader  = "X-Api-Key"
	missingHeader = "X-Kv-Missing"
)

// max size of PUT body
const maxValueSize = 32 * 1024 * 1024

type Server struct {
	Backend kv.Backend
	ApiKey  string

	mux     *http.ServeMux
	muxOnce sync.Once
}

// Handler returns a http.Handler serving b
func Handler(b kv.Backend) http.Handler {
	return &Server{Backend: b}
}

func (s *Server) buildMux() {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /item", s.handleGetItem)
	mux.HandleFunc("PUT /item", s.handleSetItem)
	mux.HandleFunc("DELETE /item", s.handleRemoveItem)
	mux.HandleFunc("GET /key", s.handleKey)
	mux.HandleFunc("GET /len", s.handleLen)
	mux.HandleFunc("GET /keys", s.handleKeys)
	s.mux = mux
}

type capturingResponseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int64
}

func (w *capturingResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *capturingResponseWriter) Write(d []byte) (int, error) {
	w.size += int64(len(d))
	return w.ResponseWriter.Write(d)
}

// getBestRemoteAddress returns IP address of the request even for proxied requests
func getBestRemoteAddress(r *http.Request) string {
	h := r.Header
	potentials := []string{h.Get("CF-Connecting-IP"), h.Get("X-Real-Ip"), h.Get("X-Forwarded-For"), r.RemoteAddr}
	for _, v := range potentials {
		// sometimes they are stored as "ip1, ip2, ip3" with ip1 being the best
		parts := strings.Split(v, ",")
		res := strings.TrimSpace(parts[0])
		if res != "" {
			return res
		}
	}
	return ""
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.muxOnce.Do(s.buildMux)
	timeStart := time.Now()
	cw := &capturingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
	if s.ApiKey != "" && !validApiKey(r.Header.Get(apiKeyHeader), s.ApiKey) {
		http.Error(cw, "invalid api key", http.StatusUnauthorized)
	} else {
		s.mux.ServeHTTP(cw, r)
	}
	log.Event("httpkv.request",
		"method", r.Method,
		"url", r.URL.String(),
		"ip", getBestRemoteAddress(r),
		"status", cw.statusCode,
		"size", cw.size,
		"dur_ms", time.Since(timeStart).Milliseconds())
}

func validApiKey(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// serveMissing is 404 for an item or key that doesn't exist
func serveMissing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set(missingHeader, "1")
	http.NotFound(w, r)
}

func serveError(w http.ResponseWriter, r *http.Request, err error) {
	log.Errorf("httpkv: %s %s failed with '%s'\n", r.Method, r.URL, err)
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func serveJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func serveText(w http.ResponseWriter, s string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, s)
}

// keyParam returns the key param. An empty key is valid so we distinguish
// "key=" from no key at all.
func keyParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	q := r.URL.Query()
	if !q.Has("key") {
		http.Error(w, "missing 'key' param", http.StatusBadRequest)
		return "", false
	}
	return q.Get("key"), true
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(w, r)
	if !ok {
		return
	}
	v, ok, err := s.Backend.GetItem(key)
	if err != nil {
		serveError(w, r, err)
		return
	}
	if !ok {
		serveMissing(w, r)
		return
	}
	serveText(w, v)
}

func (s *Server) handleSetItem(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(w, r)
	if !ok {
		return
	}
	d, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxValueSize))
	if err != nil {
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}
	if err = s.Backend.SetItem(key, string(d)); err != nil {
		serveError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(w, r)
	if !ok {
		return
	}
	if err := s.Backend.RemoveItem(key); err != nil {
		serveError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleKey(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.URL.Query().Get("index"))
	if err != nil {
		http.Error(w, "invalid 'index' param", http.StatusBadRequest)
		return
	}
	key, ok, err := s.Backend.Key(index)
	if err != nil {
		serveError(w, r, err)
		return
	}
	if !ok {
		serveMissing(w, r)
		return
	}
	serveText(w, key)
}

func (s *Server) handleLen(w http.ResponseWriter, r *http.Request) {
	n, err := s.Backend.Len()
	if err != nil {
		serveError(w, r, err)
		return
	}
	serveJSON(w, n)
}

func (s *Server) handleKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := kv.Keys(s.Backend)
	if err != nil {
		serveError(w, r, err)
		return
	}
	if keys == nil {
		keys = []string{}
	}
	serveJSON(w, keys)
}

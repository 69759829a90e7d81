// Package proxytest hosts an in-process fake of the storage proxy and the
// history service for integration-style tests.
//
// The fake keeps buckets, objects and history entries in memory, validates
// the credential headers, and supports scripted failures so rate-limit and
// auth-teardown paths can be exercised without a real backend.
//
// Usage:
//
//	func TestAgainstProxy(t *testing.T) {
//	    srv := proxytest.New(t)
//	    client, _ := proxyclient.New(proxyclient.Config{
//	        BaseURL:     srv.URL(),
//	        Credentials: proxytest.Credentials(),
//	    })
//	    // ... test code ...
//	}
package proxytest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lakefront/s3console/pkg/history"
	"github.com/lakefront/s3console/pkg/remotestore"
)

// Test credentials accepted by the fake.
const (
	TestAccessKey = "AKIAPROXYTEST0000001"
	TestSecretKey = "proxytest-secret"
	TestRegion    = "us-east-1"
)

// Credentials returns the credential set the fake accepts.
func Credentials() remotestore.Credentials {
	return remotestore.Credentials{
		AccessKey: TestAccessKey,
		SecretKey: TestSecretKey,
		Region:    TestRegion,
	}
}

type bucket struct {
	meta       remotestore.Bucket
	objects    map[string]remotestore.Object
	versioning bool
	encryption bool
	configs    map[string][]byte
}

type scriptedError struct {
	status int
	code   string
}

// Server is the in-memory fake. Safe for concurrent use.
type Server struct {
	srv *httptest.Server

	mu       sync.Mutex
	buckets  map[string]*bucket
	entries  map[string]history.Entry
	requests int
	script   []scriptedError
}

// New starts the fake and registers shutdown with the test.
func New(t *testing.T) *Server {
	t.Helper()

	s := &Server{
		buckets: make(map[string]*bucket),
		entries: make(map[string]history.Entry),
	}

	r := chi.NewRouter()
	r.Use(s.intercept)

	r.Get("/buckets", s.listBuckets)
	r.Post("/buckets", s.createBucket)
	r.Delete("/buckets/{bucket}", s.deleteBucket)
	r.Get("/buckets/{bucket}/objects", s.listObjects)
	r.Post("/buckets/{bucket}/objects", s.putObject)
	r.Delete("/buckets/{bucket}/objects/{key}", s.deleteObject)
	r.Put("/buckets/{bucket}/{feature}", s.setFeature)
	r.Delete("/buckets/{bucket}/{feature}", s.unsetFeature)

	r.Post("/api/history/sync", s.historySync)
	r.Get("/api/history", s.historyFetch)
	r.Delete("/api/history", s.historyClear)

	s.srv = httptest.NewServer(r)
	t.Cleanup(s.srv.Close)
	return s
}

// URL returns the fake's base URL.
func (s *Server) URL() string {
	return s.srv.URL
}

// Requests reports how many requests passed the interceptor so far.
func (s *Server) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// FailNext scripts the next n requests to fail with the given status and
// upstream code before any handler runs.
func (s *Server) FailNext(n, status int, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		s.script = append(s.script, scriptedError{status: status, code: code})
	}
}

// Seed inserts a bucket with the given object keys, bypassing the API.
func (s *Server) Seed(name string, keys ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.ensureBucket(name)
	for _, key := range keys {
		b.objects[key] = remotestore.Object{
			Key:          key,
			Size:         int64(len(key)),
			LastModified: time.Now().UTC(),
		}
	}
}

// HistoryEntries returns a snapshot of the remote history state.
func (s *Server) HistoryEntries() []history.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]history.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// SeedHistory places entries directly into the remote history state.
func (s *Server) SeedHistory(entries ...history.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.entries[e.ID] = e
	}
}

func (s *Server) ensureBucket(name string) *bucket {
	b, ok := s.buckets[name]
	if !ok {
		b = &bucket{
			meta:    remotestore.Bucket{Name: name, Region: TestRegion, CreatedAt: time.Now().UTC()},
			objects: make(map[string]remotestore.Object),
			configs: make(map[string][]byte),
		}
		s.buckets[name] = b
	}
	return b
}

// intercept validates credentials, counts requests, and serves scripted
// failures.
func (s *Server) intercept(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests++
		var scripted *scriptedError
		if len(s.script) > 0 {
			scripted = &s.script[0]
			s.script = s.script[1:]
		}
		s.mu.Unlock()

		if scripted != nil {
			writeError(w, scripted.status, scripted.code, "scripted failure")
			return
		}
		if r.Header.Get("x-access-key") != TestAccessKey || r.Header.Get("x-secret-key") != TestSecretKey {
			writeError(w, http.StatusUnauthorized, "InvalidAccessKeyId", "credentials rejected")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"code": code, "message": message})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) listBuckets(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out := make([]remotestore.Bucket, 0, len(s.buckets))
	for _, b := range s.buckets {
		out = append(out, b.meta)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	writeJSON(w, map[string]any{"buckets": out})
}

func (s *Server) createBucket(w http.ResponseWriter, r *http.Request) {
	var input remotestore.CreateBucketInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil || input.Name == "" {
		writeError(w, http.StatusBadRequest, "MalformedRequest", "invalid bucket input")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.buckets[input.Name]; exists {
		writeError(w, http.StatusConflict, "BucketAlreadyExists", "bucket exists")
		return
	}
	b := s.ensureBucket(input.Name)
	b.versioning = input.VersioningEnabled
	b.encryption = input.EncryptionEnabled
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) deleteBucket(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "bucket")

	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[name]
	if !ok {
		writeError(w, http.StatusNotFound, "NoSuchBucket", "bucket not found")
		return
	}
	if len(b.objects) > 0 {
		writeError(w, http.StatusConflict, "BucketNotEmpty", "bucket not empty")
		return
	}
	delete(s.buckets, name)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listObjects(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "bucket")
	prefix := r.URL.Query().Get("prefix")

	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[name]
	if !ok {
		writeError(w, http.StatusNotFound, "NoSuchBucket", "bucket not found")
		return
	}

	objects := make([]remotestore.Object, 0)
	prefixSet := make(map[string]struct{})
	for key, obj := range b.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := key[len(prefix):]
		if i := strings.Index(rest, "/"); i >= 0 {
			prefixSet[prefix+rest[:i+1]] = struct{}{}
			continue
		}
		objects = append(objects, obj)
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	prefixes := make([]string, 0, len(prefixSet))
	for p := range prefixSet {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)

	writeJSON(w, map[string]any{"objects": objects, "prefixes": prefixes})
}

func (s *Server) putObject(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "bucket")

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "MalformedRequest", "expected multipart upload")
		return
	}
	key := r.FormValue("path")
	if key == "" {
		writeError(w, http.StatusBadRequest, "MalformedRequest", "missing path field")
		return
	}

	var size int64
	if file, _, err := r.FormFile("file"); err == nil {
		size, _ = io.Copy(io.Discard, file)
		_ = file.Close()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[name]
	if !ok {
		writeError(w, http.StatusNotFound, "NoSuchBucket", "bucket not found")
		return
	}
	b.objects[key] = remotestore.Object{Key: key, Size: size, LastModified: time.Now().UTC()}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) deleteObject(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "bucket")
	key := chi.URLParam(r, "key")

	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[name]
	if !ok {
		writeError(w, http.StatusNotFound, "NoSuchBucket", "bucket not found")
		return
	}
	if _, ok := b.objects[key]; !ok {
		writeError(w, http.StatusNotFound, "NoSuchKey", "object not found")
		return
	}
	delete(b.objects, key)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setFeature(w http.ResponseWriter, r *http.Request) {
	s.feature(w, r, true)
}

func (s *Server) unsetFeature(w http.ResponseWriter, r *http.Request) {
	s.feature(w, r, false)
}

func (s *Server) feature(w http.ResponseWriter, r *http.Request, enabled bool) {
	name := chi.URLParam(r, "bucket")
	feature := chi.URLParam(r, "feature")

	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[name]
	if !ok {
		writeError(w, http.StatusNotFound, "NoSuchBucket", "bucket not found")
		return
	}

	switch feature {
	case "versioning":
		b.versioning = enabled
	case "encryption":
		b.encryption = enabled
	case "policy", "acl", "cors", "website", "lifecycle", "object-lock":
		if enabled {
			doc, _ := io.ReadAll(io.LimitReader(r.Body, 1<<20))
			b.configs[feature] = doc
		} else {
			delete(b.configs, feature)
		}
	default:
		writeError(w, http.StatusNotFound, "NotImplemented", "unknown feature")
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) historySync(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Entries []history.Entry `json:"entries"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "MalformedRequest", "invalid sync payload")
		return
	}

	s.mu.Lock()
	acked := make([]string, 0, len(req.Entries))
	for _, e := range req.Entries {
		s.entries[e.ID] = e
		acked = append(acked, e.ID)
	}
	s.mu.Unlock()

	writeJSON(w, map[string]any{"syncedIds": acked})
}

func (s *Server) historyFetch(w http.ResponseWriter, r *http.Request) {
	entries := s.HistoryEntries()
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	writeJSON(w, map[string]any{"entries": entries})
}

func (s *Server) historyClear(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.entries = make(map[string]history.Entry)
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

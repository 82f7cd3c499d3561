// Package assetcache serves the application shell from a versioned,
// content-addressed in-memory cache with network fallback.
package assetcache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var ErrNotInstalled = errors.New("no installed cache to activate")

// ClaimFunc is told which cache became current so open pages can switch.
type ClaimFunc func(ctx context.Context, name string)

type response struct {
	status int
	header http.Header
	body   []byte
}

type Store struct {
	mu        sync.RWMutex
	caches    map[string]map[string]response
	installed string
	current   string

	network  http.Handler
	manifest []string
	prefix   string
	claim    ClaimFunc
	logger   zerolog.Logger
}

func New(network http.Handler, prefix string, manifest []string, claim ClaimFunc, logger zerolog.Logger) *Store {
	return &Store{
		caches:   make(map[string]map[string]response),
		network:  network,
		manifest: manifest,
		prefix:   prefix,
		claim:    claim,
		logger:   logger.With().Str("component", "assetcache").Logger(),
	}
}

// NewNetwork returns the handler used for cache misses: a reverse proxy
// when upstream is set, otherwise a file server over staticDir.
func NewNetwork(staticDir, upstream string) (http.Handler, error) {
	if upstream == "" {
		return http.FileServer(http.Dir(staticDir)), nil
	}
	u, err := url.Parse(upstream)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid upstream URL %q", upstream)
	}
	return httputil.NewSingleHostReverseProxy(u), nil
}

// Install fetches every manifest entry. All must succeed or nothing is
// stored. The cache is named after a hash of its contents.
func (s *Store) Install(ctx context.Context) (string, error) {
	fetched := make([]response, len(s.manifest))

	g, gctx := errgroup.WithContext(ctx)
	for i, path := range s.manifest {
		g.Go(func() error {
			resp, err := s.fetch(gctx, path)
			if err != nil {
				return err
			}
			if resp.status != http.StatusOK {
				return fmt.Errorf("precache %s: status %d", path, resp.status)
			}
			fetched[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", fmt.Errorf("install failed: %w", err)
	}

	entries := make(map[string]response, len(s.manifest))
	for i, path := range s.manifest {
		entries[path] = fetched[i]
	}
	name := s.name(entries)

	s.mu.Lock()
	s.caches[name] = entries
	s.installed = name
	s.mu.Unlock()

	s.logger.Info().Str("cache", name).Int("entries", len(entries)).Msg("cache installed")
	return name, nil
}

func (s *Store) name(entries map[string]response) string {
	paths := make([]string, 0, len(entries))
	for p := range entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	h := xxhash.New()
	for _, p := range paths {
		h.WriteString(p)
		h.Write([]byte{0})
		h.Write(entries[p].body)
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%s-%016x", s.prefix, h.Sum64())
}

// Activate makes the installed cache current, deletes every other cache
// and claims open clients.
func (s *Store) Activate(ctx context.Context) (int, error) {
	s.mu.Lock()
	if s.installed == "" {
		s.mu.Unlock()
		return 0, ErrNotInstalled
	}
	s.current = s.installed
	deleted := 0
	for name := range s.caches {
		if name != s.current {
			delete(s.caches, name)
			deleted++
		}
	}
	name := s.current
	s.mu.Unlock()

	s.logger.Info().Str("cache", name).Int("deleted", deleted).Msg("cache activated")
	if s.claim != nil {
		s.claim(ctx, name)
	}
	return deleted, nil
}

func (s *Store) Current() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Names lists every cache held, current or not.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.caches))
	for n := range s.caches {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (s *Store) lookup(path string) (response, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	resp, ok := s.caches[s.current][path]
	return resp, ok
}

// ServeHTTP answers GET requests from the current cache first and falls
// back to the network. A navigation that fails on the network gets the
// cached root document. Other methods go straight to the network.
func (s *Store) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.network.ServeHTTP(w, r)
		return
	}

	if resp, ok := s.lookup(r.URL.Path); ok {
		write(w, resp)
		return
	}

	resp := s.capture(r)
	if unreachable(resp.status) && isNavigation(r) {
		if shell, ok := s.lookup("/"); ok {
			s.logger.Debug().Str("path", r.URL.Path).Int("status", resp.status).Msg("serving cached shell")
			write(w, shell)
			return
		}
	}
	write(w, resp)
}

func (s *Store) fetch(ctx context.Context, path string) (response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return response{}, fmt.Errorf("precache %s: %w", path, err)
	}
	return s.capture(req), nil
}

func (s *Store) capture(r *http.Request) response {
	rec := &recorder{header: make(http.Header), status: http.StatusOK}
	s.network.ServeHTTP(rec, r)
	return response{status: rec.status, header: rec.header, body: rec.body.Bytes()}
}

func write(w http.ResponseWriter, resp response) {
	for k, v := range resp.header {
		w.Header()[k] = v
	}
	w.WriteHeader(resp.status)
	w.Write(resp.body)
}

func unreachable(status int) bool {
	return status == http.StatusBadGateway || status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout
}

func isNavigation(r *http.Request) bool {
	if r.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// recorder buffers a network response so it can be replayed or replaced.
type recorder struct {
	header      http.Header
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (r *recorder) Header() http.Header { return r.header }

func (r *recorder) WriteHeader(status int) {
	if r.wroteHeader {
		return
	}
	r.status = status
	r.wroteHeader = true
}

func (r *recorder) Write(p []byte) (int, error) {
	r.wroteHeader = true
	return r.body.Write(p)
}

// Package registry tracks the calls a process is serving. It is created at
// startup, handed to whatever accepts carrier connections, and drained at
// shutdown.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/teslashibe/go-callbridge/internal/log"
	"github.com/teslashibe/go-callbridge/pkg/bridge"
	"github.com/teslashibe/go-callbridge/pkg/realtime"
	"github.com/teslashibe/go-callbridge/pkg/session"
	"github.com/teslashibe/go-callbridge/pkg/twilio"
)

// Registry errors.
var (
	ErrDuplicateStream = errors.New("registry: stream already has a session")
	ErrDraining        = errors.New("registry: draining, not accepting calls")
	ErrNotFound        = errors.New("registry: session not found")
)

// Gauge is the part of a metrics gauge the registry drives.
type Gauge interface {
	Inc()
	Dec()
}

// Config configures a Registry.
type Config struct {
	Logger *slog.Logger

	// NewProvider returns a fresh AI provider for each call.
	NewProvider func() (realtime.Provider, error)

	// Bridge is the template every call's bridge is built from.
	Bridge bridge.Config

	// CallMetrics, when set, returns the per-call metrics sink.
	CallMetrics func() bridge.Metrics

	// Active tracks the number of live calls.
	Active Gauge

	// NewID generates session ids. Defaults to "call-" + a UUID.
	NewID func() string
}

// Info describes one live call.
type Info struct {
	session.Snapshot
	Stats bridge.Stats `json:"stats"`
}

// Registry maps session ids, stream sids and call sids to running bridges.
// All three indexes change together under one lock.
type Registry struct {
	cfg Config
	log *slog.Logger

	mu       sync.RWMutex
	byID     map[string]*bridge.Bridge
	byStream map[string]string
	byCall   map[string]string
	draining bool
	wg       sync.WaitGroup
}

// New creates an empty registry.
func New(cfg Config) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = log.L()
	}
	if cfg.NewID == nil {
		cfg.NewID = func() string { return "call-" + uuid.NewString() }
	}
	return &Registry{
		cfg:      cfg,
		log:      cfg.Logger.With("component", "registry"),
		byID:     make(map[string]*bridge.Bridge),
		byStream: make(map[string]string),
		byCall:   make(map[string]string),
	}
}

// Start builds a bridge for a started carrier stream, registers it and runs
// it in the background. The entry is removed when the call ends; wait on
// the returned bridge's Done to know when.
func (r *Registry) Start(ctx context.Context, stream *twilio.Stream, start *twilio.Start) (*bridge.Bridge, error) {
	if r.cfg.NewProvider == nil {
		return nil, errors.New("registry: no provider factory configured")
	}

	r.mu.Lock()
	if r.draining {
		r.mu.Unlock()
		return nil, ErrDraining
	}
	if _, ok := r.byStream[start.StreamSID]; ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateStream, start.StreamSID)
	}

	ai, err := r.cfg.NewProvider()
	if err != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("registry: create provider: %w", err)
	}

	cfg := r.cfg.Bridge
	if r.cfg.CallMetrics != nil {
		cfg.Metrics = r.cfg.CallMetrics()
	}
	id := r.cfg.NewID()
	b, err := bridge.New(id, stream, start, ai, cfg)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}

	r.byID[id] = b
	r.byStream[start.StreamSID] = id
	if start.CallSID != "" {
		r.byCall[start.CallSID] = id
	}
	r.wg.Add(1)
	count := len(r.byID)
	r.mu.Unlock()

	if r.cfg.Active != nil {
		r.cfg.Active.Inc()
	}
	r.log.Info("session registered", "session_id", id, "stream_sid", start.StreamSID, "active", count)

	go func() {
		defer r.remove(id, start.StreamSID, start.CallSID)
		if err := b.Run(ctx); err != nil {
			r.log.Warn("session failed", "session_id", id, "error", err)
		}
	}()
	return b, nil
}

func (r *Registry) remove(id, streamSID, callSID string) {
	r.mu.Lock()
	delete(r.byID, id)
	delete(r.byStream, streamSID)
	if r.byCall[callSID] == id {
		delete(r.byCall, callSID)
	}
	count := len(r.byID)
	r.mu.Unlock()

	if r.cfg.Active != nil {
		r.cfg.Active.Dec()
	}
	r.log.Info("session removed", "session_id", id, "active", count)
	r.wg.Done()
}

// Get returns the bridge for a session id.
func (r *Registry) Get(id string) (*bridge.Bridge, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.byID[id]
	return b, ok
}

// ByStreamSID returns the bridge serving a carrier stream.
func (r *Registry) ByStreamSID(streamSID string) (*bridge.Bridge, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.byID[r.byStream[streamSID]]
	return b, ok
}

// ByCallSID returns the bridge serving a carrier call.
func (r *Registry) ByCallSID(callSID string) (*bridge.Bridge, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.byID[r.byCall[callSID]]
	return b, ok
}

// List returns every live call, oldest first.
func (r *Registry) List() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.byID))
	for _, b := range r.byID {
		out = append(out, Info{Snapshot: b.Session().Snapshot(), Stats: b.Stats()})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Count returns the number of live calls.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Hangup ends one call with reason. It returns before teardown completes.
func (r *Registry) Hangup(id string, reason session.TerminationReason) error {
	if !reason.Valid() {
		return fmt.Errorf("%w: %q", session.ErrInvalidReason, reason)
	}
	b, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	b.Hangup(reason)
	return nil
}

// Draining reports whether Drain has been called.
func (r *Registry) Draining() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.draining
}

// Drain stops accepting calls, hangs up every live call with
// server_shutdown and waits until all are gone or ctx ends.
func (r *Registry) Drain(ctx context.Context) error {
	r.mu.Lock()
	r.draining = true
	live := make([]*bridge.Bridge, 0, len(r.byID))
	for _, b := range r.byID {
		live = append(live, b)
	}
	r.mu.Unlock()

	r.log.Info("draining", "active", len(live))
	for _, b := range live {
		b.Hangup(session.ReasonServerShutdown)
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.log.Info("drained")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("registry: drain: %w (%d calls left)", ctx.Err(), r.Count())
	}
}

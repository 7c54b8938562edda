// Package registry holds the process-wide handles the rest of the relay
// reads: the reloadable configuration snapshot, the store, the live
// connection counter and the shutdown watch. It is built once at startup
// and passed by reference to every component, instead of relying on
// package-level singletons, so tests can construct their own.
package registry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"

	"nexrelay.dev/config"
	"nexrelay.dev/ippolicy"
	"nexrelay.dev/log"
	"nexrelay.dev/store"
)

// T is the global registry. Store and the IP policy are immutable for the
// process lifetime; Config is hot-swappable on SIGHUP.
type T struct {
	cfg atomic.Pointer[config.C]

	Store   *store.T
	Policy  *ippolicy.T
	Started time.Time

	liveConns atomic.Int64
	shutdown  chan struct{}
	once      sync.Once
}

// New wires a registry around an already-open store and the given initial
// configuration.
func New(cfg *config.C, st *store.T) *T {
	r := &T{
		Store:    st,
		Policy:   ippolicy.New(st),
		Started:  time.Now(),
		shutdown: make(chan struct{}),
	}
	r.cfg.Store(cfg)
	go r.sweepLoop()
	return r
}

// sweepLoop periodically evicts expired entries from the IP policy cache
// until shutdown begins.
func (r *T) sweepLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-r.shutdown:
			return
		case <-ticker.C:
			r.Policy.Sweep()
		}
	}
}

// Config returns the current configuration snapshot. Safe for concurrent
// use; callers should read it once per request rather than holding onto it
// across a long-lived connection, so a reload takes effect for new work.
func (r *T) Config() *config.C { return r.cfg.Load() }

// Reload atomically swaps the configuration snapshot used by subsequent
// reads, in response to SIGHUP.
func (r *T) Reload() {
	cfg, err := config.New()
	if err != nil {
		log.E.F("config reload failed, keeping previous configuration: %v", err)
		return
	}
	r.cfg.Store(cfg)
	log.I.Ln("configuration reloaded")
}

// ConnOpened increments the live-connection counter. Call when a session,
// blossom or management request begins serving.
func (r *T) ConnOpened() { r.liveConns.Inc() }

// ConnClosed decrements the live-connection counter.
func (r *T) ConnClosed() { r.liveConns.Dec() }

// LiveConns reports the current number of in-flight connections, used by
// the management endpoint's numconnections call.
func (r *T) LiveConns() int64 { return r.liveConns.Load() }

// Uptime reports how long the process has been running.
func (r *T) Uptime() time.Duration { return time.Since(r.Started) }

// Shutdown returns the channel that closes once shutdown has been
// requested. Every session and the accept loop select on it.
func (r *T) Shutdown() <-chan struct{} { return r.shutdown }

// BeginShutdown closes the shutdown watch exactly once.
func (r *T) BeginShutdown() {
	r.once.Do(func() { close(r.shutdown) })
}

// AwaitDrain blocks until LiveConns reaches zero or the deadline in ctx
// expires, whichever comes first. Used by the main loop after
// BeginShutdown to give in-flight sessions a grace period to finish.
func (r *T) AwaitDrain(ctx context.Context) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if r.LiveConns() <= 0 {
			return
		}
		select {
		case <-ctx.Done():
			log.W.F("shutdown grace period elapsed with %d connections still open", r.LiveConns())
			return
		case <-ticker.C:
		}
	}
}

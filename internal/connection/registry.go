package connection

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/clinicpro/dictation-sync/internal/metrics"
)

// Dialer opens a connected Client for a channel.
type Dialer func(ctx context.Context) (Client, error)

// Dial returns a Dialer that creates a Client from cfg and connects it.
func Dial(cfg ClientConfig, logger *slog.Logger) Dialer {
	return func(ctx context.Context) (Client, error) {
		c := NewClient(cfg, logger)
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Registry shares one transport per channel across every consumer in the
// process. Concurrent acquires for the same channel collapse into a single
// dial; the transport is closed when its last lease is released.
type Registry struct {
	logger  *slog.Logger
	metrics *metrics.Metrics

	group singleflight.Group

	mu      sync.Mutex
	entries map[string]*entry

	dials     atomic.Int64
	reuses    atomic.Int64
	evictions atomic.Int64
}

type entry struct {
	client Client
	refs   int
}

// NewRegistry creates an empty registry. m may be nil.
func NewRegistry(logger *slog.Logger, m *metrics.Metrics) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:  logger,
		metrics: m,
		entries: make(map[string]*entry),
	}
}

// Acquire returns a lease on the channel's transport, dialing one if none is
// registered or the registered one is no longer connected. When several
// callers race, dial runs once and the first caller's ctx governs it.
func (r *Registry) Acquire(ctx context.Context, channel string, dial Dialer) (*Lease, error) {
	if channel == "" {
		return nil, fmt.Errorf("acquire: empty channel")
	}

	for {
		if e := r.lookup(channel); e != nil {
			r.reuses.Add(1)
			r.metrics.TransportReused()
			return &Lease{registry: r, channel: channel, entry: e}, nil
		}

		// The flight runs on exactly one caller; that caller's ref is taken
		// under mu together with registration so refs never pass through zero.
		leader := false
		v, err, _ := r.group.Do(channel, func() (any, error) {
			leader = true

			// Another flight may have registered a transport since lookup.
			if e := r.lookup(channel); e != nil {
				r.reuses.Add(1)
				r.metrics.TransportReused()
				return e, nil
			}

			client, err := dial(ctx)
			r.metrics.TransportDialed(err)
			if err != nil {
				return nil, err
			}
			r.dials.Add(1)

			e := &entry{client: client, refs: 1}
			r.mu.Lock()
			r.entries[channel] = e
			n := len(r.entries)
			r.mu.Unlock()
			r.metrics.SetTransports(n)

			r.logger.Debug("transport registered", "channel", channel)
			return e, nil
		})
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", channel, err)
		}

		e := v.(*entry)
		if leader {
			return &Lease{registry: r, channel: channel, entry: e}, nil
		}

		// Waiters share the leader's result, which may have been released and
		// closed before they got here.
		r.mu.Lock()
		live := r.entries[channel] == e && e.client.IsConnected()
		if live {
			e.refs++
		}
		r.mu.Unlock()
		if live {
			r.reuses.Add(1)
			r.metrics.TransportReused()
			return &Lease{registry: r, channel: channel, entry: e}, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("acquire %s: %w", channel, err)
		}
	}
}

// lookup returns a healthy registered entry with its refcount bumped, evicting
// an unhealthy one.
func (r *Registry) lookup(channel string) *entry {
	r.mu.Lock()
	e, ok := r.entries[channel]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	if e.client.IsConnected() {
		e.refs++
		r.mu.Unlock()
		return e
	}

	delete(r.entries, channel)
	n := len(r.entries)
	r.mu.Unlock()

	r.evictions.Add(1)
	r.metrics.SetTransports(n)
	r.logger.Debug("evicting stale transport", "channel", channel)
	e.client.Close()
	return nil
}

func (r *Registry) release(channel string, e *entry) {
	r.mu.Lock()
	e.refs--
	last := e.refs <= 0
	if last && r.entries[channel] == e {
		delete(r.entries, channel)
	}
	n := len(r.entries)
	r.mu.Unlock()

	if last {
		r.metrics.SetTransports(n)
		r.logger.Debug("last lease released, closing transport", "channel", channel)
		e.client.Close()
	}
}

// Close closes every registered transport. Outstanding leases keep working
// only in the sense that Release remains safe to call.
func (r *Registry) Close() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range entries {
		e.client.Close()
	}
	r.metrics.SetTransports(0)
}

// Stats returns current registry statistics.
func (r *Registry) Stats() RegistryStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := RegistryStats{
		Channels:       len(r.entries),
		Dials:          r.dials.Load(),
		Reuses:         r.reuses.Load(),
		StaleEvictions: r.evictions.Load(),
		Refs:           make(map[string]int, len(r.entries)),
	}
	for channel, e := range r.entries {
		stats.Leases += e.refs
		stats.Refs[channel] = e.refs
	}
	return stats
}

// Lease is one holder's claim on a shared transport.
type Lease struct {
	registry *Registry
	channel  string
	entry    *entry
	once     sync.Once
}

// Client returns the shared transport.
func (l *Lease) Client() Client {
	return l.entry.client
}

// Channel returns the channel the lease was acquired for.
func (l *Lease) Channel() string {
	return l.channel
}

// Release gives the lease back. Only the first call has any effect.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.registry.release(l.channel, l.entry)
	})
}

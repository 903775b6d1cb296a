// Package registry keeps the process-wide table of live sessions keyed by
// caller-chosen ids.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/GeorgePearse/mcp-tui-test/internal/session"
)

var (
	// ErrNotFound is returned when no session has the requested id.
	ErrNotFound = errors.New("session not found")
	// ErrDuplicate is returned when creating a session whose id is taken.
	ErrDuplicate = errors.New("session already exists")
	// ErrInvalidID is returned for an empty session id.
	ErrInvalidID = errors.New("session id cannot be empty")
	// ErrClosed is returned by a Create that was still starting when CloseAll
	// ran. The new session is closed before it is returned.
	ErrClosed = errors.New("registry closed during create")
)

// StartFunc launches a session. session.Start is the default.
type StartFunc func(ctx context.Context, cfg session.Config) (session.Session, error)

// Options configures a Registry.
type Options struct {
	Start  StartFunc
	Logger *slog.Logger
}

// Registry maps ids to sessions. Lookups and listing share a read lock; the
// table lock is never held while a process is spawned or closed.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]session.Session
	// pending holds ids reserved by an in-flight Create.
	pending map[string]struct{}
	// gen is bumped by every CloseAll.
	gen uint64

	start  StartFunc
	logger *slog.Logger
}

// New returns an empty registry.
func New(opts Options) *Registry {
	if opts.Start == nil {
		opts.Start = session.Start
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Registry{
		sessions: make(map[string]session.Session),
		pending:  make(map[string]struct{}),
		start:    opts.Start,
		logger:   opts.Logger,
	}
}

// Create starts a session under cfg.ID. An existing session with that id is
// an error unless replace is set, in which case it is closed first.
func (r *Registry) Create(ctx context.Context, cfg session.Config, replace bool) (session.Session, error) {
	id := cfg.ID
	if id == "" {
		return nil, ErrInvalidID
	}

	r.mu.Lock()
	if _, busy := r.pending[id]; busy {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %q is being created", ErrDuplicate, id)
	}
	old, exists := r.sessions[id]
	if exists && !replace {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrDuplicate, id)
	}
	delete(r.sessions, id)
	r.pending[id] = struct{}{}
	gen := r.gen
	r.mu.Unlock()

	if exists {
		r.logger.Info("replacing session", slog.String("session", id))
		if err := old.Close(); err != nil {
			r.logger.Warn("close replaced session", slog.String("session", id), slog.Any("error", err))
		}
	}

	if cfg.Logger == nil {
		cfg.Logger = r.logger
	}
	s, err := r.start(ctx, cfg)

	r.mu.Lock()
	delete(r.pending, id)
	stale := r.gen != gen
	if err == nil && !stale {
		r.sessions[id] = s
	}
	r.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if stale {
		if cerr := s.Close(); cerr != nil {
			r.logger.Warn("close orphaned session", slog.String("session", id), slog.Any("error", cerr))
		}
		return nil, fmt.Errorf("%w: %q", ErrClosed, id)
	}
	r.logger.Info("session created",
		slog.String("session", id),
		slog.String("mode", string(s.Mode())),
		slog.String("command", cfg.Command))
	return s, nil
}

// Get returns the session registered under id.
func (r *Registry) Get(id string) (session.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return s, nil
}

// Remove unregisters the session and closes it. Removing an unknown id is a
// no-op. The id is free for reuse by the time Remove returns, even if closing
// failed.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	err := s.Close()
	r.logger.Info("session closed", slog.String("session", id))
	return err
}

// List describes every live session, ordered by id.
func (r *Registry) List() []session.Info {
	r.mu.RLock()
	infos := make([]session.Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		infos = append(infos, s.Info())
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll empties the registry and closes every session concurrently. It
// returns the first close error. Creates still in flight when CloseAll runs
// close their session and fail with ErrClosed; later Creates work normally.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	r.gen++
	all := r.sessions
	r.sessions = make(map[string]session.Session)
	r.mu.Unlock()

	if len(all) == 0 {
		return nil
	}
	r.logger.Info("closing all sessions", slog.Int("count", len(all)))

	g, _ := errgroup.WithContext(ctx)
	for id, s := range all {
		g.Go(func() error {
			if err := s.Close(); err != nil {
				return fmt.Errorf("close %q: %w", id, err)
			}
			return nil
		})
	}
	return g.Wait()
}

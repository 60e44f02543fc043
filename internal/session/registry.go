package session

import (
	"context"
	"sync"
	"time"
)

// Registry tracks records and enforces the single-active-session-per-user
// rule. All map state is guarded here; fragment appends happen on the
// orchestrator's event loop, never concurrently for one session.
type Registry struct {
	mu                sync.Mutex
	byID              map[string]*Record
	activeByUser      map[string]string
	inactivityTimeout time.Duration
	// Terminal records stay queryable for a while after ending, then
	// the janitor drops them.
	terminalRetention time.Duration
	onExpire          func(*Record)
	onPurge           func(id string)
}

func NewRegistry(inactivityTimeout time.Duration) *Registry {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 2 * time.Minute
	}
	return &Registry{
		byID:              make(map[string]*Record),
		activeByUser:      make(map[string]string),
		inactivityTimeout: inactivityTimeout,
		terminalRetention: time.Hour,
	}
}

func (g *Registry) SetExpireHook(hook func(*Record)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onExpire = hook
}

// SetPurgeHook is notified when the janitor drops a retained terminal
// record, so callers can release any state keyed by the session id.
func (g *Registry) SetPurgeHook(hook func(id string)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onPurge = hook
}

// Start creates a new active record for the user. If the user already has an
// active record it is force-ended as interrupted first, synchronously, so at
// most one active record exists per user at any instant. The displaced record
// (if any) is returned for finalization by the caller.
func (g *Registry) Start(userID, companionID, conversationID string) (created, displaced *Record) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if prevID, ok := g.activeByUser[userID]; ok {
		if prev, ok := g.byID[prevID]; ok && !prev.Terminal() {
			prev.Finalize(StatusInterrupted, time.Now().UTC())
			displaced = clone(prev)
		}
	}

	rec := NewRecord(userID, companionID, conversationID)
	g.byID[rec.ID] = rec
	g.activeByUser[userID] = rec.ID
	return clone(rec), displaced
}

func (g *Registry) Get(id string) (*Record, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(r), nil
}

// ActiveForUser returns the user's active record, if any.
func (g *Registry) ActiveForUser(userID string) (*Record, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, ok := g.activeByUser[userID]
	if !ok {
		return nil, false
	}
	r, ok := g.byID[id]
	if !ok || r.Terminal() {
		return nil, false
	}
	return clone(r), true
}

// Append appends a fragment to an active record.
func (g *Registry) Append(id, speaker, text string, at time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.byID[id]
	if !ok {
		return ErrNotFound
	}
	return r.Append(speaker, text, at)
}

// AmendLastUserFragment rewrites the most recent user fragment of an active
// record.
func (g *Registry) AmendLastUserFragment(id, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.byID[id]
	if !ok {
		return ErrNotFound
	}
	if !r.AmendLastUserFragment(text) {
		return ErrNotActive
	}
	return nil
}

func (g *Registry) Touch(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.byID[id]
	if !ok {
		return ErrNotFound
	}
	r.LastActivityAt = time.Now().UTC()
	return nil
}

// End finalizes a record. Ending an already-terminal record is a no-op and
// reports changed=false, which keeps session termination idempotent.
func (g *Registry) End(id string, status Status) (rec *Record, changed bool, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.byID[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	changed = r.Finalize(status, time.Now().UTC())
	if changed && g.activeByUser[r.UserID] == r.ID {
		delete(g.activeByUser, r.UserID)
	}
	return clone(r), changed, nil
}

func (g *Registry) ActiveCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.activeByUser)
}

// StartJanitor expires records with no activity beyond the inactivity
// timeout, surfacing them through the expire hook as session timeouts.
func (g *Registry) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				g.expireInactive()
			}
		}
	}()
}

func (g *Registry) expireInactive() {
	now := time.Now().UTC()
	var expired []*Record

	g.mu.Lock()
	for _, id := range g.activeByUser {
		r, ok := g.byID[id]
		if !ok || r.Terminal() {
			continue
		}
		if now.Sub(r.LastActivityAt) < g.inactivityTimeout {
			continue
		}
		r.Finalize(StatusError, now)
		delete(g.activeByUser, r.UserID)
		expired = append(expired, clone(r))
	}
	var purged []string
	for id, r := range g.byID {
		if r.Terminal() && !r.EndTime.IsZero() && now.Sub(r.EndTime) > g.terminalRetention {
			delete(g.byID, id)
			purged = append(purged, id)
		}
	}
	expireHook := g.onExpire
	purgeHook := g.onPurge
	g.mu.Unlock()

	if expireHook != nil {
		for _, r := range expired {
			expireHook(r)
		}
	}
	if purgeHook != nil {
		for _, id := range purged {
			purgeHook(id)
		}
	}
}

package voice

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ent0n29/keeva/internal/reliability"
)

// sessionRuntime holds everything live about one session. All state
// mutation funnels through a single event loop goroutine; detector
// timers, playback hooks and turn workers post closures onto it instead
// of touching fields directly.
type sessionRuntime struct {
	id             string
	userID         string
	companionID    string
	conversationID string
	persona        string
	contextLines   []string

	detector *TurnDetector
	playback *PlaybackCoordinator
	notify   func(msg any)

	// stateMu covers state, substate and the recovery hook: the session
	// loop owns most transitions, but session end reports
	// Ending/Completed from the caller's goroutine and the transport
	// installs recovery after the session is already live.
	stateMu            sync.Mutex
	state              State
	substate           Substate
	recovery           func(kind reliability.ErrorKind) error
	lastUserFragmentAt time.Time

	// turnGen invalidates in-flight companion turns: barge-in and
	// session end bump it, and workers drop their output when the
	// generation they were started with is no longer current.
	turnGen atomic.Int64

	retryMu       sync.Mutex
	retryAttempts map[reliability.ErrorKind]int

	events    chan func()
	closed    chan struct{}
	closeOnce sync.Once
}

func (rt *sessionRuntime) run() {
	for {
		select {
		case fn := <-rt.events:
			fn()
		case <-rt.closed:
			return
		}
	}
}

// post schedules fn on the session loop. Events for a closed session are
// dropped.
func (rt *sessionRuntime) post(fn func()) {
	select {
	case <-rt.closed:
	case rt.events <- fn:
	}
}

func (rt *sessionRuntime) close() {
	rt.closeOnce.Do(func() { close(rt.closed) })
}

func (rt *sessionRuntime) send(msg any) {
	if rt.notify != nil {
		rt.notify(msg)
	}
}

func (rt *sessionRuntime) nextTurnGen() int64 {
	return rt.turnGen.Add(1)
}

func (rt *sessionRuntime) invalidateTurns() {
	rt.turnGen.Add(1)
}

func (rt *sessionRuntime) turnCurrent(gen int64) bool {
	return rt.turnGen.Load() == gen
}

// retryNext returns the zero-based attempt index for this error kind and
// whether another retry is still allowed.
func (rt *sessionRuntime) retryNext(kind reliability.ErrorKind, max int) (int, bool) {
	rt.retryMu.Lock()
	defer rt.retryMu.Unlock()
	attempt := rt.retryAttempts[kind]
	if attempt >= max {
		return attempt, false
	}
	rt.retryAttempts[kind] = attempt + 1
	return attempt, true
}

// retryReset clears the counters after a fully successful turn.
func (rt *sessionRuntime) retryReset() {
	rt.retryMu.Lock()
	defer rt.retryMu.Unlock()
	for k := range rt.retryAttempts {
		delete(rt.retryAttempts, k)
	}
}

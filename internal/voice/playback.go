package voice

import (
	"context"
	"os"
	"sync"
	"time"
)

// Player renders one synthesized WAV file to the output device or client
// connection. Play blocks until the item finishes or ctx is canceled.
type Player interface {
	Play(ctx context.Context, wavPath string) error
}

type PlaybackItem struct {
	ID      string
	Text    string
	WAVPath string
}

// Playback lifecycle events reported through the coordinator hook.
const (
	PlaybackStarted     = "item_started"
	PlaybackFinished    = "item_finished"
	PlaybackFailed      = "item_failed"
	PlaybackInterrupted = "interrupted"
	PlaybackDrained     = "drained"
)

// PlaybackCoordinator plays synthesized segments strictly in order with a
// fixed gap between items. While the queue is non-empty it holds the
// audio focus; focus is handed back only when the queue drains or the
// playback is interrupted, never implicitly.
type PlaybackCoordinator struct {
	player    Player
	gap       time.Duration
	onEvent   func(event, itemID string)
	onDepth   func(depth int)
	onDrained func()

	mu        sync.Mutex
	queue     []PlaybackItem
	running   bool
	focusHeld bool
	cancelRun context.CancelFunc
	runDone   chan struct{}
}

func NewPlaybackCoordinator(player Player, gap time.Duration) *PlaybackCoordinator {
	return &PlaybackCoordinator{player: player, gap: gap}
}

// SetHooks must be called before the first Enqueue.
func (c *PlaybackCoordinator) SetHooks(onEvent func(event, itemID string), onDepth func(int), onDrained func()) {
	c.onEvent = onEvent
	c.onDepth = onDepth
	c.onDrained = onDrained
}

// Enqueue appends an item and starts the playback loop if idle. The
// coordinator takes ownership of the item's WAV file.
func (c *PlaybackCoordinator) Enqueue(item PlaybackItem) {
	c.mu.Lock()
	c.queue = append(c.queue, item)
	depth := len(c.queue)
	if !c.running {
		c.running = true
		c.focusHeld = true
		ctx, cancel := context.WithCancel(context.Background())
		c.cancelRun = cancel
		c.runDone = make(chan struct{})
		go c.run(ctx, c.runDone)
	}
	c.mu.Unlock()
	c.reportDepth(depth)
}

// HoldsFocus reports whether companion audio currently owns the channel.
func (c *PlaybackCoordinator) HoldsFocus() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.focusHeld
}

// Interrupt stops the current item and discards everything queued. It
// returns only after playback has actually stopped, so the caller can
// process the user's interrupting speech knowing the channel is quiet.
func (c *PlaybackCoordinator) Interrupt() {
	c.mu.Lock()
	dropped := c.queue
	c.queue = nil
	cancel := c.cancelRun
	done := c.runDone
	running := c.running
	c.mu.Unlock()

	for _, item := range dropped {
		_ = os.Remove(item.WAVPath)
	}
	if !running {
		return
	}
	cancel()
	<-done
	c.emit(PlaybackInterrupted, "")
	c.reportDepth(0)
}

func (c *PlaybackCoordinator) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		c.mu.Lock()
		if ctx.Err() != nil || len(c.queue) == 0 {
			drained := ctx.Err() == nil
			c.running = false
			c.focusHeld = false
			c.mu.Unlock()
			if drained {
				c.reportDepth(0)
				c.emit(PlaybackDrained, "")
				if c.onDrained != nil {
					c.onDrained()
				}
			}
			return
		}
		item := c.queue[0]
		c.queue = c.queue[1:]
		depth := len(c.queue)
		c.mu.Unlock()

		c.reportDepth(depth)
		c.emit(PlaybackStarted, item.ID)
		err := c.player.Play(ctx, item.WAVPath)
		_ = os.Remove(item.WAVPath)
		switch {
		case ctx.Err() != nil:
			// Interrupted mid-item; the top of the loop exits.
		case err != nil:
			c.emit(PlaybackFailed, item.ID)
		default:
			c.emit(PlaybackFinished, item.ID)
		}

		if ctx.Err() == nil && c.gap > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(c.gap):
			}
		}
	}
}

func (c *PlaybackCoordinator) emit(event, itemID string) {
	if c.onEvent != nil {
		c.onEvent(event, itemID)
	}
}

func (c *PlaybackCoordinator) reportDepth(depth int) {
	if c.onDepth != nil {
		c.onDepth(depth)
	}
}

package voice

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type fakePlayer struct {
	mu     sync.Mutex
	played []string
	delay  time.Duration
}

func (p *fakePlayer) Play(ctx context.Context, wavPath string) error {
	p.mu.Lock()
	p.played = append(p.played, filepath.Base(wavPath))
	p.mu.Unlock()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.delay):
		return nil
	}
}

func (p *fakePlayer) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.played...)
}

func tempWAV(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("RIFF"), 0o644); err != nil {
		t.Fatalf("write temp wav: %v", err)
	}
	return path
}

func TestPlaybackCoordinatorPlaysInOrderWithGap(t *testing.T) {
	player := &fakePlayer{delay: 10 * time.Millisecond}
	c := NewPlaybackCoordinator(player, 30*time.Millisecond)

	drained := make(chan struct{}, 1)
	c.SetHooks(nil, nil, func() {
		select {
		case drained <- struct{}{}:
		default:
		}
	})

	start := time.Now()
	c.Enqueue(PlaybackItem{ID: "1", WAVPath: tempWAV(t, "a.wav")})
	c.Enqueue(PlaybackItem{ID: "2", WAVPath: tempWAV(t, "b.wav")})

	select {
	case <-drained:
	case <-time.After(time.Second):
		t.Fatalf("queue never drained")
	}

	if got := player.names(); len(got) != 2 || got[0] != "a.wav" || got[1] != "b.wav" {
		t.Fatalf("played = %v, want [a.wav b.wav] in order", got)
	}
	// Two items plus two inter-item gaps.
	if elapsed := time.Since(start); elapsed < 70*time.Millisecond {
		t.Fatalf("drained in %s, want >= 70ms with gaps", elapsed)
	}
	if c.HoldsFocus() {
		t.Fatalf("HoldsFocus() = true after drain, want false")
	}
}

func TestPlaybackCoordinatorHoldsFocusWhilePlaying(t *testing.T) {
	player := &fakePlayer{delay: 80 * time.Millisecond}
	c := NewPlaybackCoordinator(player, 0)

	c.Enqueue(PlaybackItem{ID: "1", WAVPath: tempWAV(t, "a.wav")})
	time.Sleep(20 * time.Millisecond)
	if !c.HoldsFocus() {
		t.Fatalf("HoldsFocus() = false during playback, want true")
	}
	c.Interrupt()
}

func TestPlaybackCoordinatorInterruptStopsAndClears(t *testing.T) {
	player := &fakePlayer{delay: 200 * time.Millisecond}
	c := NewPlaybackCoordinator(player, 10*time.Millisecond)

	queued := tempWAV(t, "b.wav")
	c.Enqueue(PlaybackItem{ID: "1", WAVPath: tempWAV(t, "a.wav")})
	c.Enqueue(PlaybackItem{ID: "2", WAVPath: queued})
	time.Sleep(30 * time.Millisecond)

	interruptedAt := time.Now()
	c.Interrupt()
	if took := time.Since(interruptedAt); took > 100*time.Millisecond {
		t.Fatalf("Interrupt() took %s, want prompt stop", took)
	}

	if got := player.names(); len(got) != 1 {
		t.Fatalf("played = %v, want only the first item started", got)
	}
	if c.HoldsFocus() {
		t.Fatalf("HoldsFocus() = true after interrupt, want false")
	}
	if _, err := os.Stat(queued); !os.IsNotExist(err) {
		t.Fatalf("queued wav still on disk after interrupt")
	}
}

func TestPlaybackCoordinatorInterruptIdleIsNoop(t *testing.T) {
	c := NewPlaybackCoordinator(&fakePlayer{}, 0)
	c.Interrupt()
	if c.HoldsFocus() {
		t.Fatalf("HoldsFocus() = true on idle coordinator")
	}
}

func TestPlaybackCoordinatorRemovesFilesAfterPlaying(t *testing.T) {
	player := &fakePlayer{delay: 5 * time.Millisecond}
	c := NewPlaybackCoordinator(player, 0)

	drained := make(chan struct{}, 1)
	c.SetHooks(nil, nil, func() {
		select {
		case drained <- struct{}{}:
		default:
		}
	})

	path := tempWAV(t, "a.wav")
	c.Enqueue(PlaybackItem{ID: "1", WAVPath: path})
	select {
	case <-drained:
	case <-time.After(time.Second):
		t.Fatalf("queue never drained")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("wav still on disk after playback")
	}
}

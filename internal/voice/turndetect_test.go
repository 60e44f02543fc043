package voice

import (
	"sync"
	"testing"
	"time"
)

type detectorCapture struct {
	mu         sync.Mutex
	completed  []CompletionReason
	texts      []string
	amended    []string
	voiceStart int
	hotStates  int
}

func (c *detectorCapture) hooks() TurnDetectorHooks {
	return TurnDetectorHooks{
		OnVoiceStart: func() {
			c.mu.Lock()
			c.voiceStart++
			c.mu.Unlock()
		},
		OnHotState: func() {
			c.mu.Lock()
			c.hotStates++
			c.mu.Unlock()
		},
		OnTurnComplete: func(_ int64, text string, reason CompletionReason) {
			c.mu.Lock()
			c.completed = append(c.completed, reason)
			c.texts = append(c.texts, text)
			c.mu.Unlock()
		},
		OnAmendTurn: func(_ int64, text string) {
			c.mu.Lock()
			c.amended = append(c.amended, text)
			c.mu.Unlock()
		},
	}
}

func (c *detectorCapture) snapshot() ([]CompletionReason, []string, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]CompletionReason(nil), c.completed...),
		append([]string(nil), c.texts...),
		append([]string(nil), c.amended...)
}

func testDetectorConfig() TurnDetectorConfig {
	return TurnDetectorConfig{
		VoiceThreshold:    0.30,
		SilenceTimeout:    80 * time.Millisecond,
		PotentialSentence: 50 * time.Millisecond,
		HotStateWindow:    30 * time.Millisecond,
		FinalGraceWindow:  200 * time.Millisecond,
	}
}

func TestTurnDetectorProviderFinalCompletesImmediately(t *testing.T) {
	cap := &detectorCapture{}
	d := NewTurnDetector(testDetectorConfig(), cap.hooks())

	d.Update("hello how are", 0.6, false)
	d.Update("hello how are you", 0.1, true)

	time.Sleep(20 * time.Millisecond)
	reasons, texts, _ := cap.snapshot()
	if len(reasons) != 1 || reasons[0] != ReasonProviderFinal {
		t.Fatalf("completions = %v, want one provider_final", reasons)
	}
	if texts[0] != "hello how are you" {
		t.Fatalf("completed text = %q", texts[0])
	}
}

func TestTurnDetectorSilenceCompletes(t *testing.T) {
	cap := &detectorCapture{}
	d := NewTurnDetector(testDetectorConfig(), cap.hooks())

	d.Update("I was thinking about the", 0.6, false)
	d.Update("", 0.05, false)

	time.Sleep(150 * time.Millisecond)
	reasons, texts, _ := cap.snapshot()
	if len(reasons) != 1 || reasons[0] != ReasonSilence {
		t.Fatalf("completions = %v, want one silence", reasons)
	}
	if texts[0] != "I was thinking about the" {
		t.Fatalf("completed text = %q", texts[0])
	}
}

func TestTurnDetectorHotStateBeatsSilence(t *testing.T) {
	cap := &detectorCapture{}
	d := NewTurnDetector(testDetectorConfig(), cap.hooks())

	d.Update("that sounds great.", 0.6, false)
	d.Update("that sounds great.", 0.05, false)

	// Hot state should fire after sentence(50ms)+hot(30ms), well before
	// the 80ms silence timer plus its arming delay.
	time.Sleep(200 * time.Millisecond)
	reasons, _, _ := cap.snapshot()
	if len(reasons) != 1 {
		t.Fatalf("completions = %v, want exactly one", reasons)
	}
	if reasons[0] != ReasonHotState {
		t.Fatalf("reason = %v, want hot_state", reasons[0])
	}
	cap.mu.Lock()
	hot := cap.hotStates
	cap.mu.Unlock()
	if hot != 1 {
		t.Fatalf("hot-state promotions = %d, want 1", hot)
	}
}

func TestTurnDetectorContinuedSpeechReplacesTimers(t *testing.T) {
	cap := &detectorCapture{}
	d := NewTurnDetector(testDetectorConfig(), cap.hooks())

	d.Update("wait no.", 0.6, false)
	d.Update("wait no.", 0.05, false)
	time.Sleep(20 * time.Millisecond)
	// Voice resumes before any timer fires; everything re-arms fresh.
	d.Update("wait no. actually I want", 0.6, false)
	time.Sleep(200 * time.Millisecond)

	reasons, texts, _ := cap.snapshot()
	if len(reasons) != 0 {
		t.Fatalf("completions = %v %v, want none while voice active", reasons, texts)
	}

	d.Update("", 0.05, false)
	time.Sleep(150 * time.Millisecond)
	reasons, texts, _ = cap.snapshot()
	if len(reasons) != 1 || reasons[0] != ReasonSilence {
		t.Fatalf("completions = %v, want one silence", reasons)
	}
	if texts[0] != "wait no. actually I want" {
		t.Fatalf("completed text = %q", texts[0])
	}
}

func TestTurnDetectorNoDuplicateCompletion(t *testing.T) {
	cap := &detectorCapture{}
	d := NewTurnDetector(testDetectorConfig(), cap.hooks())

	d.Update("see you tomorrow.", 0.6, false)
	d.Update("see you tomorrow.", 0.05, false)

	// Let hot state, silence and anything else racing all have time to fire.
	time.Sleep(300 * time.Millisecond)
	reasons, _, _ := cap.snapshot()
	if len(reasons) != 1 {
		t.Fatalf("completions = %v, want exactly one", reasons)
	}
}

func TestTurnDetectorFinalWithinGraceAmends(t *testing.T) {
	cap := &detectorCapture{}
	d := NewTurnDetector(testDetectorConfig(), cap.hooks())

	d.Update("turn off the lights", 0.6, false)
	d.Update("turn off the lights.", 0.05, false)
	time.Sleep(120 * time.Millisecond)

	reasons, _, _ := cap.snapshot()
	if len(reasons) != 1 || reasons[0] != ReasonHotState {
		t.Fatalf("completions = %v, want one hot_state", reasons)
	}

	// Recognizer final lands inside the grace window with better text.
	d.Update("turn off the lights please.", 0, true)
	time.Sleep(30 * time.Millisecond)

	reasons, _, amended := cap.snapshot()
	if len(reasons) != 1 {
		t.Fatalf("completions = %v, want still one", reasons)
	}
	if len(amended) != 1 || amended[0] != "turn off the lights please." {
		t.Fatalf("amended = %v, want the final transcript", amended)
	}
}

func TestTurnDetectorFinalAfterGraceStartsNewTurn(t *testing.T) {
	cfg := testDetectorConfig()
	cfg.FinalGraceWindow = 20 * time.Millisecond
	cap := &detectorCapture{}
	d := NewTurnDetector(cfg, cap.hooks())

	d.Update("good night.", 0.6, false)
	d.Update("good night.", 0.05, false)
	time.Sleep(120 * time.Millisecond)

	d.Update("good night sleep well.", 0, true)
	time.Sleep(30 * time.Millisecond)

	reasons, _, amended := cap.snapshot()
	if len(amended) != 0 {
		t.Fatalf("amended = %v, want none after grace expired", amended)
	}
	if len(reasons) != 2 || reasons[1] != ReasonProviderFinal {
		t.Fatalf("completions = %v, want hot_state then provider_final", reasons)
	}
}

func TestTurnDetectorVoiceStartEdge(t *testing.T) {
	cap := &detectorCapture{}
	d := NewTurnDetector(testDetectorConfig(), cap.hooks())

	d.Update("", 0.5, false)
	d.Update("", 0.6, false)
	d.Update("", 0.1, false)
	d.Update("", 0.7, false)
	time.Sleep(20 * time.Millisecond)

	cap.mu.Lock()
	starts := cap.voiceStart
	cap.mu.Unlock()
	if starts != 2 {
		t.Fatalf("voice start edges = %d, want 2", starts)
	}
}

func TestTurnDetectorVoiceEdgeFiresBeforeFinalCompletes(t *testing.T) {
	var mu sync.Mutex
	var order []string
	d := NewTurnDetector(testDetectorConfig(), TurnDetectorHooks{
		OnVoiceStart: func() {
			mu.Lock()
			order = append(order, "voice")
			mu.Unlock()
		},
		OnTurnComplete: func(_ int64, _ string, _ CompletionReason) {
			mu.Lock()
			order = append(order, "turn")
			mu.Unlock()
		},
	})

	// One update carries both the rising voice edge and the final
	// transcript: the edge must be delivered first so a barge-in
	// interrupt lands before the completed turn.
	d.Update("wait, stop.", 0.9, true)

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	got := append([]string(nil), order...)
	mu.Unlock()
	if len(got) != 2 || got[0] != "voice" || got[1] != "turn" {
		t.Fatalf("hook order = %v, want voice before turn", got)
	}
}

func TestEndsPotentialSentence(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"I think so.", true},
		{"really?", true},
		{"stop!", true},
		{"thanks", true},
		{"thank you", true},
		{"okay", true},
		{"goodbye", true},
		{"and then we", false},
		{"the weather is", false},
		{"", false},
		{"nothing to say here", false},
	}
	for _, tc := range cases {
		if got := endsPotentialSentence(tc.text); got != tc.want {
			t.Errorf("endsPotentialSentence(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

package voice

import (
	"strings"
	"sync"
	"time"
)

// CompletionReason records which path detected the end of a user turn.
type CompletionReason string

const (
	ReasonProviderFinal CompletionReason = "provider_final"
	ReasonSilence       CompletionReason = "silence"
	ReasonHotState      CompletionReason = "hot_state"
)

// Timer slots. Arming a slot always replaces the previous timer in that
// slot; timers never stack.
const (
	slotSilence  = "silence"
	slotSentence = "sentence"
	slotHot      = "hot"
)

type TurnDetectorConfig struct {
	VoiceThreshold    float64
	SilenceTimeout    time.Duration
	PotentialSentence time.Duration
	HotStateWindow    time.Duration
	FinalGraceWindow  time.Duration
}

// TurnDetectorHooks are invoked from timer goroutines and from Update
// callers; the receiver serializes them onto its own loop.
type TurnDetectorHooks struct {
	// OnVoiceStart fires on the rising edge of voice activity. It is the
	// barge-in trigger while the companion is speaking.
	OnVoiceStart func()
	// OnHotState fires when a potential sentence is promoted to the hot
	// window, i.e. the turn is about to commit on a short quiet period.
	OnHotState func()
	// OnTurnComplete delivers a finished user turn.
	OnTurnComplete func(turnID int64, text string, reason CompletionReason)
	// OnAmendTurn replaces the text of an already-completed turn when the
	// recognizer's final transcript lands within the grace window after a
	// hot-state promotion.
	OnAmendTurn func(turnID int64, text string)
}

// TurnDetector decides when the user has finished speaking. Three
// detection paths race: the recognizer's own final transcript, a silence
// window after voice activity stops, and a short hot-state window armed
// when the transcript already looks like a finished sentence while the
// microphone has gone quiet.
type TurnDetector struct {
	cfg   TurnDetectorConfig
	hooks TurnDetectorHooks

	mu          sync.Mutex
	timers      map[string]*time.Timer
	epoch       int64
	turnSeq     int64
	pending     string
	voiceActive bool
	sawVoice    bool

	hotTurnID     int64
	hotPromotedAt time.Time
}

func NewTurnDetector(cfg TurnDetectorConfig, hooks TurnDetectorHooks) *TurnDetector {
	return &TurnDetector{
		cfg:    cfg,
		hooks:  hooks,
		timers: make(map[string]*time.Timer),
	}
}

// Update feeds one recognizer event into the detector.
func (d *TurnDetector) Update(text string, soundLevel float64, isFinal bool) {
	d.mu.Lock()

	var voiceStarted bool
	if soundLevel >= d.cfg.VoiceThreshold {
		if !d.voiceActive {
			voiceStarted = true
		}
		d.voiceActive = true
		d.sawVoice = true
		d.cancelLocked(slotSilence)
		d.cancelLocked(slotHot)
	} else if d.voiceActive {
		d.voiceActive = false
		d.armLocked(slotSilence, d.cfg.SilenceTimeout, d.fireSilence)
	}

	if isFinal {
		d.mu.Unlock()
		// The voice edge must land before the completed turn so a
		// barge-in interrupt wins over the fragment append.
		if voiceStarted && d.hooks.OnVoiceStart != nil {
			d.hooks.OnVoiceStart()
		}
		d.mu.Lock()
		d.finalLocked(text)
		d.mu.Unlock()
		return
	}

	if trimmed := strings.TrimSpace(text); trimmed != "" {
		d.pending = trimmed
		if endsPotentialSentence(trimmed) {
			d.armLocked(slotSentence, d.cfg.PotentialSentence, d.fireSentence)
		} else {
			d.cancelLocked(slotSentence)
			d.cancelLocked(slotHot)
			if !d.voiceActive {
				d.armLocked(slotSilence, d.cfg.SilenceTimeout, d.fireSilence)
			}
		}
	}
	d.mu.Unlock()

	if voiceStarted && d.hooks.OnVoiceStart != nil {
		d.hooks.OnVoiceStart()
	}
}

// Reset clears all pending timers and buffered text, e.g. after a turn is
// handed to the companion or the session ends.
func (d *TurnDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resetLocked()
}

func (d *TurnDetector) resetLocked() {
	d.epoch++
	for slot, t := range d.timers {
		t.Stop()
		delete(d.timers, slot)
	}
	d.pending = ""
	d.voiceActive = false
	d.sawVoice = false
}

// finalLocked handles the recognizer's committed transcript. Inside the
// grace window after a hot-state promotion the final amends that turn
// instead of opening a new one.
func (d *TurnDetector) finalLocked(text string) {
	trimmed := strings.TrimSpace(text)

	if d.hotTurnID != 0 && time.Since(d.hotPromotedAt) <= d.cfg.FinalGraceWindow {
		turnID := d.hotTurnID
		d.hotTurnID = 0
		if trimmed != "" && d.hooks.OnAmendTurn != nil {
			go d.hooks.OnAmendTurn(turnID, trimmed)
		}
		d.resetLocked()
		return
	}

	if trimmed == "" && d.pending != "" {
		trimmed = d.pending
	}
	if trimmed == "" {
		d.resetLocked()
		return
	}
	d.completeLocked(trimmed, ReasonProviderFinal)
}

func (d *TurnDetector) fireSilence(epoch int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if epoch != d.epoch || d.pending == "" {
		return
	}
	d.completeLocked(d.pending, ReasonSilence)
}

// fireSentence promotes a potential sentence into the hot state: the text
// reads as complete, so a short extra window of quiet is enough to commit
// without waiting out the full silence timeout.
func (d *TurnDetector) fireSentence(epoch int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if epoch != d.epoch || d.voiceActive || d.pending == "" {
		return
	}
	// The hot window takes over endpointing; the silence timer would
	// otherwise race it to the same deadline.
	d.cancelLocked(slotSilence)
	d.armLocked(slotHot, d.cfg.HotStateWindow, d.fireHot)
	if d.hooks.OnHotState != nil {
		go d.hooks.OnHotState()
	}
}

func (d *TurnDetector) fireHot(epoch int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if epoch != d.epoch || d.voiceActive || d.pending == "" {
		return
	}
	text := d.pending
	d.completeLocked(text, ReasonHotState)
}

// completeLocked closes the current turn exactly once: the epoch bump
// invalidates every armed timer, so a racing slot cannot complete the
// same utterance twice.
func (d *TurnDetector) completeLocked(text string, reason CompletionReason) {
	d.turnSeq++
	turnID := d.turnSeq
	if reason == ReasonHotState {
		d.hotTurnID = turnID
		d.hotPromotedAt = time.Now()
	} else {
		d.hotTurnID = 0
	}
	d.resetLocked()
	if d.hooks.OnTurnComplete != nil {
		go d.hooks.OnTurnComplete(turnID, text, reason)
	}
}

func (d *TurnDetector) armLocked(slot string, dur time.Duration, fn func(epoch int64)) {
	if t, ok := d.timers[slot]; ok {
		t.Stop()
	}
	epoch := d.epoch
	d.timers[slot] = time.AfterFunc(dur, func() { fn(epoch) })
}

func (d *TurnDetector) cancelLocked(slot string) {
	if t, ok := d.timers[slot]; ok {
		t.Stop()
		delete(d.timers, slot)
	}
}

var conversationalClosers = map[string]struct{}{
	"thanks":    {},
	"thank you": {},
	"bye":       {},
	"goodbye":   {},
	"okay":      {},
	"ok":        {},
	"yes":       {},
	"no":        {},
	"yeah":      {},
	"nope":      {},
}

// endsPotentialSentence reports whether the partial transcript already
// reads like a finished utterance: terminal punctuation, or a trailing
// conversational closer.
func endsPotentialSentence(text string) bool {
	text = strings.TrimRight(strings.TrimSpace(text), `"'`)
	if text == "" {
		return false
	}
	switch text[len(text)-1] {
	case '.', '?', '!':
		return true
	}

	lower := strings.ToLower(text)
	for closer := range conversationalClosers {
		if lower == closer || strings.HasSuffix(lower, " "+closer) {
			return true
		}
	}
	return false
}

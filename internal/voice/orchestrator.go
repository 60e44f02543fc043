package voice

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/keeva/internal/audio"
	"github.com/ent0n29/keeva/internal/brain"
	"github.com/ent0n29/keeva/internal/observability"
	"github.com/ent0n29/keeva/internal/policy"
	"github.com/ent0n29/keeva/internal/protocol"
	"github.com/ent0n29/keeva/internal/reliability"
	"github.com/ent0n29/keeva/internal/session"
	"github.com/ent0n29/keeva/internal/store"
	"github.com/ent0n29/keeva/internal/summary"
)

// State names the coarse lifecycle phase of the service or one session.
type State string

const (
	StateIdle         State = "idle"
	StateInitializing State = "initializing"
	StateReady        State = "ready"
	StateActive       State = "active"
	StateEnding       State = "ending"
	StateCompleted    State = "completed"
	StateError        State = "error"
)

// Substate refines StateActive.
type Substate string

const (
	SubListening         Substate = "listening"
	SubVoiceDetected     Substate = "voice_detected"
	SubHotState          Substate = "hot_state"
	SubProcessing        Substate = "processing"
	SubCompanionSpeaking Substate = "companion_speaking"
)

const (
	contextLoadTimeout = 350 * time.Millisecond
	messageSaveTimeout = 2 * time.Second
	turnStreamTimeout  = 60 * time.Second
)

type PersonaProfile struct {
	ID          string
	DisplayName string
	SystemStyle string
}

// Config carries the tuning knobs the orchestrator and its per-session
// components need.
type Config struct {
	VoiceThreshold    float64
	SilenceTimeout    time.Duration
	PotentialSentence time.Duration
	HotStateWindow    time.Duration
	FinalGraceWindow  time.Duration
	InterItemGap      time.Duration
	RetryBackoffBase  time.Duration
	RetryMaxAttempts  int
	ContextLoadLimit  int
	Synthesis         SynthesisSettings
}

// Orchestrator owns the conversation lifecycle: it starts sessions,
// routes streaming transcription into turn detection, drives the
// companion's reply through synthesis and playback, and compresses the
// session into a stored message when it ends.
type Orchestrator struct {
	cfg        Config
	registry   *session.Registry
	adapter    brain.Adapter
	messages   store.Store
	compressor *summary.Compressor
	synth      Synthesizer
	metrics    *observability.Metrics
	profiles   map[string]PersonaProfile

	mu       sync.Mutex
	state    State
	runtimes map[string]*sessionRuntime
	results  map[string]EndResult
}

func NewOrchestrator(
	cfg Config,
	registry *session.Registry,
	adapter brain.Adapter,
	messages store.Store,
	compressor *summary.Compressor,
	synth Synthesizer,
	metrics *observability.Metrics,
) *Orchestrator {
	profiles := map[string]PersonaProfile{
		"warm": {
			ID:          "warm",
			DisplayName: "Warm",
			SystemStyle: "empathetic, conversational, supportive",
		},
		"concise": {
			ID:          "concise",
			DisplayName: "Concise",
			SystemStyle: "brief, high-signal, direct",
		},
	}
	return &Orchestrator{
		cfg:        cfg,
		registry:   registry,
		adapter:    adapter,
		messages:   messages,
		compressor: compressor,
		synth:      synth,
		metrics:    metrics,
		profiles:   profiles,
		state:      StateIdle,
		runtimes:   make(map[string]*sessionRuntime),
		results:    make(map[string]EndResult),
	}
}

// InitializeSystem verifies the wired dependencies and moves the service
// to ready. It is safe to call more than once.
func (o *Orchestrator) InitializeSystem(_ context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == StateReady {
		return nil
	}
	o.state = StateInitializing
	if o.registry == nil || o.adapter == nil || o.messages == nil || o.compressor == nil || o.synth == nil {
		o.state = StateError
		return fmt.Errorf("orchestrator missing dependencies")
	}
	o.state = StateReady
	if o.metrics != nil {
		o.metrics.SessionEvents.WithLabelValues("system_ready").Inc()
	}
	return nil
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// EndResult is what EndSession reports back to the caller.
type EndResult struct {
	Status          session.Status
	Summary         string
	Discarded       bool
	TokenEfficiency float64
	Stats           session.Stats
}

// StartSession opens a session for the user/companion pair. A previous
// active session for the same user is force-ended first. notify receives
// outbound protocol messages; player renders companion audio.
func (o *Orchestrator) StartSession(ctx context.Context, userID, companionID, conversationID, personaID string, player Player, notify func(msg any)) (string, error) {
	o.mu.Lock()
	if o.state != StateReady {
		o.mu.Unlock()
		return "", fmt.Errorf("orchestrator not ready (state %s)", o.state)
	}
	o.mu.Unlock()

	rec, displaced := o.registry.Start(userID, companionID, conversationID)
	if displaced != nil {
		o.finalizeDisplaced(displaced)
	}

	profile, ok := o.profiles[personaID]
	if !ok {
		profile = o.profiles["warm"]
	}

	rt := &sessionRuntime{
		id:             rec.ID,
		userID:         userID,
		companionID:    companionID,
		conversationID: conversationID,
		persona:        profile.SystemStyle,
		state:          StateActive,
		substate:       SubListening,
		notify:         notify,
		events:         make(chan func(), 128),
		closed:         make(chan struct{}),
		retryAttempts:  make(map[reliability.ErrorKind]int),
	}
	rt.playback = NewPlaybackCoordinator(player, o.cfg.InterItemGap)
	rt.playback.SetHooks(
		func(event, itemID string) { o.onPlaybackEvent(rt, event, itemID) },
		func(depth int) {
			if o.metrics != nil {
				o.metrics.PlaybackQueueDepth.Set(float64(depth))
			}
		},
		func() { o.postSubstate(rt, SubListening) },
	)
	rt.detector = NewTurnDetector(TurnDetectorConfig{
		VoiceThreshold:    o.cfg.VoiceThreshold,
		SilenceTimeout:    o.cfg.SilenceTimeout,
		PotentialSentence: o.cfg.PotentialSentence,
		HotStateWindow:    o.cfg.HotStateWindow,
		FinalGraceWindow:  o.cfg.FinalGraceWindow,
	}, TurnDetectorHooks{
		OnVoiceStart:   func() { o.onVoiceStart(rt) },
		OnHotState:     func() { o.onHotState(rt) },
		OnTurnComplete: func(turnID int64, text string, reason CompletionReason) { o.onTurnComplete(rt, turnID, text, reason) },
		OnAmendTurn:    func(turnID int64, text string) { o.onAmendTurn(rt, text) },
	})

	rt.contextLines = o.loadContext(ctx, companionID, userID)

	o.mu.Lock()
	o.runtimes[rec.ID] = rt
	o.mu.Unlock()
	go rt.run()

	if o.metrics != nil {
		o.metrics.ActiveSessions.Set(float64(o.registry.ActiveCount()))
		o.metrics.SessionEvents.WithLabelValues("session_started").Inc()
	}
	o.sendState(rt, StateActive, SubListening)
	return rec.ID, nil
}

// UpdateTranscription feeds one recognizer update into the session's
// turn detector. Unknown or ended sessions are ignored.
func (o *Orchestrator) UpdateTranscription(sessionID, text string, soundLevel float64, isFinal bool) {
	rt := o.runtime(sessionID)
	if rt == nil {
		return
	}
	o.registry.Touch(sessionID)
	rt.detector.Update(text, soundLevel, isFinal)
}

// EndSession finalizes the session. When summarize is false the model is
// not consulted and the raw fragment lines become the persisted context;
// the discard rule for short sessions applies either way. Ending an
// already-ended session returns the original result.
func (o *Orchestrator) EndSession(ctx context.Context, sessionID string, summarize bool) (EndResult, error) {
	return o.endWithStatus(ctx, sessionID, session.StatusCompleted, summarize)
}

func (o *Orchestrator) endWithStatus(ctx context.Context, sessionID string, status session.Status, summarize bool) (EndResult, error) {
	rt := o.runtime(sessionID)

	rec, changed, err := o.registry.End(sessionID, status)
	if err != nil {
		return EndResult{}, err
	}
	if !changed {
		o.mu.Lock()
		res, ok := o.results[sessionID]
		o.mu.Unlock()
		if ok {
			return res, nil
		}
		return EndResult{Status: rec.Status, Discarded: true}, nil
	}

	if rt != nil {
		o.sendState(rt, StateEnding, "")
		rt.invalidateTurns()
		rt.detector.Reset()
		rt.playback.Interrupt()
	}

	res := EndResult{Status: rec.Status}
	persona := ""
	if rt != nil {
		persona = rt.persona
	}
	var comp summary.Result
	if summarize {
		comp = o.compressor.Compress(ctx, rec, persona)
	} else {
		comp = o.compressor.Raw(rec)
	}
	res.Discarded = comp.Discarded
	res.Summary = comp.Summary
	res.TokenEfficiency = comp.TokenEfficiency
	res.Stats = session.ComputeStats(rec, comp.Summary != "")

	if !comp.Discarded {
		o.saveMessageBestEffort(rec, comp)
	} else if o.metrics != nil {
		o.metrics.SessionEvents.WithLabelValues("session_discarded").Inc()
	}

	o.mu.Lock()
	o.results[sessionID] = res
	o.mu.Unlock()

	if rt != nil {
		duration := res.Stats.Duration
		rt.send(protocol.SessionSummary{
			Type:            protocol.TypeSessionSummary,
			SessionID:       sessionID,
			Summary:         res.Summary,
			Discarded:       res.Discarded,
			TokenEfficiency: res.TokenEfficiency,
			DurationMs:      duration.Milliseconds(),
		})
		o.sendState(rt, StateCompleted, "")
	}
	o.teardownRuntime(sessionID)

	if o.metrics != nil {
		o.metrics.ActiveSessions.Set(float64(o.registry.ActiveCount()))
		o.metrics.SessionEvents.WithLabelValues("session_ended").Inc()
	}
	return res, nil
}

// finalizeDisplaced wraps up a session the registry force-ended because
// its user started a new one: playback stops, the record is compressed
// and persisted like any other ended session, and the runtime is torn
// down before the replacement becomes usable.
func (o *Orchestrator) finalizeDisplaced(rec *session.Record) {
	if rt := o.runtime(rec.ID); rt != nil {
		rt.invalidateTurns()
		rt.detector.Reset()
		rt.playback.Interrupt()
		o.sendState(rt, StateCompleted, "")
	}

	ctx, cancel := context.WithTimeout(context.Background(), messageSaveTimeout)
	defer cancel()
	comp := o.compressor.Compress(ctx, rec, "")
	if !comp.Discarded {
		o.saveMessageBestEffort(rec, comp)
	}
	o.mu.Lock()
	o.results[rec.ID] = EndResult{
		Status:          rec.Status,
		Summary:         comp.Summary,
		Discarded:       comp.Discarded,
		TokenEfficiency: comp.TokenEfficiency,
		Stats:           session.ComputeStats(rec, comp.Summary != ""),
	}
	o.mu.Unlock()
	o.teardownRuntime(rec.ID)
	if o.metrics != nil {
		o.metrics.SessionEvents.WithLabelValues("session_displaced").Inc()
	}
}

// ForgetSession drops the cached end result once the registry purges a
// retained terminal record.
func (o *Orchestrator) ForgetSession(sessionID string) {
	o.mu.Lock()
	delete(o.results, sessionID)
	o.mu.Unlock()
}

// HandleExpiry is the registry janitor hook for sessions that went quiet
// past the inactivity timeout.
func (o *Orchestrator) HandleExpiry(rec *session.Record) {
	rt := o.runtime(rec.ID)
	if rt != nil {
		rt.invalidateTurns()
		rt.detector.Reset()
		rt.playback.Interrupt()
		rt.send(protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: rec.ID,
			Code:      string(reliability.ErrSessionTimeout),
			Source:    "registry",
			Retryable: false,
			Detail:    "session expired after inactivity",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), messageSaveTimeout)
	defer cancel()
	comp := o.compressor.Compress(ctx, rec, "")
	if !comp.Discarded {
		o.saveMessageBestEffort(rec, comp)
	}
	o.mu.Lock()
	o.results[rec.ID] = EndResult{
		Status:          rec.Status,
		Summary:         comp.Summary,
		Discarded:       comp.Discarded,
		TokenEfficiency: comp.TokenEfficiency,
		Stats:           session.ComputeStats(rec, comp.Summary != ""),
	}
	o.mu.Unlock()
	o.teardownRuntime(rec.ID)
	if o.metrics != nil {
		o.metrics.ActiveSessions.Set(float64(o.registry.ActiveCount()))
		o.metrics.SessionEvents.WithLabelValues("session_expired").Inc()
	}
}

func (o *Orchestrator) runtime(sessionID string) *sessionRuntime {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.runtimes[sessionID]
}

func (o *Orchestrator) teardownRuntime(sessionID string) {
	o.mu.Lock()
	rt := o.runtimes[sessionID]
	delete(o.runtimes, sessionID)
	o.mu.Unlock()
	if rt == nil {
		return
	}
	rt.invalidateTurns()
	rt.detector.Reset()
	rt.playback.Interrupt()
	rt.close()
}

func (o *Orchestrator) loadContext(ctx context.Context, companionID, userID string) []string {
	ctx, cancel := context.WithTimeout(ctx, contextLoadTimeout)
	defer cancel()
	msgs, err := o.messages.RecentMessages(ctx, companionID, userID, o.cfg.ContextLoadLimit)
	if err != nil {
		if o.metrics != nil {
			o.metrics.ProviderErrors.WithLabelValues("store", string(reliability.ErrStorage)).Inc()
		}
		return nil
	}
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if line := m.ContextLine(); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// onVoiceStart handles the rising edge of user voice. If the companion
// is speaking this is a barge-in: playback stops synchronously and any
// in-flight reply generation is invalidated before the user's speech is
// processed.
func (o *Orchestrator) onVoiceStart(rt *sessionRuntime) {
	rt.post(func() {
		if rt.playback.HoldsFocus() {
			rt.invalidateTurns()
			rt.playback.Interrupt()
			if o.metrics != nil {
				o.metrics.SessionEvents.WithLabelValues("barge_in").Inc()
			}
		}
		o.setSubstate(rt, SubVoiceDetected)
	})
}

func (o *Orchestrator) onHotState(rt *sessionRuntime) {
	rt.post(func() {
		rt.stateMu.Lock()
		sub := rt.substate
		rt.stateMu.Unlock()
		if sub == SubVoiceDetected || sub == SubListening {
			o.setSubstate(rt, SubHotState)
		}
	})
}

func (o *Orchestrator) onTurnComplete(rt *sessionRuntime, turnID int64, text string, reason CompletionReason) {
	rt.post(func() {
		rec, err := o.registry.Get(rt.id)
		if err != nil || rec.Terminal() {
			return
		}

		redacted, _ := policy.RedactPII(text)
		now := time.Now().UTC()
		if err := o.registry.Append(rt.id, session.SpeakerUser, redacted, now); err != nil {
			return
		}
		rt.lastUserFragmentAt = now

		if o.metrics != nil {
			o.metrics.TurnCompletions.WithLabelValues(string(reason)).Inc()
		}
		rt.send(protocol.UserTurn{
			Type:      protocol.TypeUserTurn,
			SessionID: rt.id,
			TurnID:    turnID,
			Text:      redacted,
			Reason:    string(reason),
		})
		o.setSubstate(rt, SubProcessing)

		gen := rt.nextTurnGen()
		go o.runCompanionTurn(rt, gen, turnID, redacted)
	})
}

func (o *Orchestrator) onAmendTurn(rt *sessionRuntime, text string) {
	rt.post(func() {
		redacted, _ := policy.RedactPII(text)
		_ = o.registry.AmendLastUserFragment(rt.id, redacted)
	})
}

// runCompanionTurn streams the model reply, cuts it into sentences,
// synthesizes each one and enqueues it for playback. It runs off the
// session loop; every hand-back checks the turn generation so a barge-in
// or session end silently drops stale work.
func (o *Orchestrator) runCompanionTurn(rt *sessionRuntime, gen int64, turnID int64, userText string) {
	ctx, cancel := context.WithTimeout(context.Background(), turnStreamTimeout)
	defer cancel()

	rec, err := o.registry.Get(rt.id)
	if err != nil {
		return
	}

	seg := &sentenceSegmenter{}
	var full strings.Builder
	var queued []string
	firstItem := true
	synthFailed := false

	emit := func(sentences []string) {
		if synthFailed {
			return
		}
		for _, raw := range sentences {
			clean := sanitizeSpeechText(raw)
			if clean == "" {
				continue
			}
			if !rt.turnCurrent(gen) {
				return
			}
			pcm, rate, synthErr := o.synth.Synthesize(ctx, clean, o.cfg.Synthesis)
			if synthErr != nil {
				synthFailed = true
				cancel()
				o.abortReply(rt, "synthesizer", reliability.ErrTTSGeneration, strings.Join(queued, " "))
				return
			}
			wavPath, wavErr := audio.WriteTempWAV(pcm, rate)
			if wavErr != nil {
				continue
			}
			if !rt.turnCurrent(gen) {
				_ = os.Remove(wavPath)
				return
			}
			if firstItem {
				firstItem = false
				o.observeResponseLatency(rt)
				o.postSubstate(rt, SubCompanionSpeaking)
			}
			rt.playback.Enqueue(PlaybackItem{ID: uuid.NewString(), Text: clean, WAVPath: wavPath})
			queued = append(queued, clean)
		}
	}

	_, streamErr := o.adapter.StreamResponse(ctx, brain.MessageRequest{
		UserID:       rt.userID,
		SessionID:    rt.id,
		TurnID:       strconv.FormatInt(turnID, 10),
		InputText:    userText,
		ContextLines: append(rt.contextLines, recentFragmentLines(rec)...),
		Persona:      rt.persona,
	}, func(delta string) error {
		if synthFailed || !rt.turnCurrent(gen) {
			return context.Canceled
		}
		rt.send(protocol.CompanionTextDelta{
			Type:      protocol.TypeCompanionTextDelta,
			SessionID: rt.id,
			TurnID:    turnID,
			TextDelta: delta,
		})
		full.WriteString(delta)
		emit(seg.Push(delta))
		return nil
	})
	if streamErr != nil {
		if synthFailed || !rt.turnCurrent(gen) {
			return
		}
		if len(queued) > 0 {
			// Part of the reply already reached playback; a retry would
			// replay it from the top.
			o.abortReply(rt, "brain", reliability.ErrAIResponse, strings.Join(queued, " "))
			return
		}
		o.handleProviderError(rt, "brain", reliability.ErrAIResponse, func() {
			o.runCompanionTurn(rt, gen, turnID, userText)
		})
		return
	}
	emit(seg.Finalize())

	reply := strings.TrimSpace(full.String())
	if synthFailed || reply == "" || !rt.turnCurrent(gen) {
		return
	}
	rt.post(func() {
		_ = o.registry.Append(rt.id, session.SpeakerCompanion, reply, time.Now().UTC())
		rt.retryReset()
	})
}

// ReportError records a provider or client-reported failure for a
// session. Recoverable retryable kinds back off and run the session's
// recovery hook; everything else fails the session, preserving the
// partial record.
func (o *Orchestrator) ReportError(sessionID string, kind reliability.ErrorKind, recoverable bool) {
	rt := o.runtime(sessionID)
	if rt == nil {
		return
	}
	source := errorSource(kind)
	if !recoverable || !reliability.IsRetryable(kind) {
		if o.metrics != nil {
			o.metrics.ProviderErrors.WithLabelValues(source, string(kind)).Inc()
		}
		o.failSession(rt, source, kind, "unrecoverable failure")
		return
	}
	o.handleProviderError(rt, source, kind, func() { o.recoverSession(rt, kind) })
}

// SetRecoveryHook installs the transport's recovery action for a
// session, e.g. reopening the upstream recognizer stream. The hook runs
// after each retry backoff; returning an error counts as another
// failure of the same kind.
func (o *Orchestrator) SetRecoveryHook(sessionID string, hook func(kind reliability.ErrorKind) error) {
	rt := o.runtime(sessionID)
	if rt == nil {
		return
	}
	rt.stateMu.Lock()
	rt.recovery = hook
	rt.stateMu.Unlock()
}

func (o *Orchestrator) recoverSession(rt *sessionRuntime, kind reliability.ErrorKind) {
	rt.stateMu.Lock()
	hook := rt.recovery
	rt.stateMu.Unlock()
	if hook != nil {
		if err := hook(kind); err != nil {
			o.ReportError(rt.id, kind, true)
			return
		}
	}
	o.postSubstate(rt, SubListening)
}

func errorSource(kind reliability.ErrorKind) string {
	switch kind {
	case reliability.ErrSpeechRecognition, reliability.ErrMicrophonePermission:
		return "speech"
	case reliability.ErrTTSGeneration:
		return "synthesizer"
	case reliability.ErrAIResponse, reliability.ErrSummaryGeneration:
		return "brain"
	case reliability.ErrStorage:
		return "store"
	default:
		return "client"
	}
}

// handleProviderError retries retryable failures with exponential backoff
// up to the configured attempt cap, then fails the session.
func (o *Orchestrator) handleProviderError(rt *sessionRuntime, source string, kind reliability.ErrorKind, retry func()) {
	if o.metrics != nil {
		o.metrics.ProviderErrors.WithLabelValues(source, string(kind)).Inc()
	}

	attempt, allowed := rt.retryNext(kind, o.cfg.RetryMaxAttempts)
	if reliability.IsRetryable(kind) && allowed {
		backoff := reliability.ExponentialBackoff(attempt, o.cfg.RetryBackoffBase, 4*o.cfg.RetryBackoffBase)
		rt.send(protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: rt.id,
			Code:      string(kind),
			Source:    source,
			Retryable: true,
			Detail:    fmt.Sprintf("retrying in %s", backoff),
		})
		time.AfterFunc(backoff, retry)
		return
	}
	o.failSession(rt, source, kind, "giving up after repeated failures")
}

func (o *Orchestrator) failSession(rt *sessionRuntime, source string, kind reliability.ErrorKind, detail string) {
	rt.send(protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: rt.id,
		Code:      string(kind),
		Source:    source,
		Retryable: false,
		Detail:    detail,
	})
	ctx, cancel := context.WithTimeout(context.Background(), messageSaveTimeout)
	defer cancel()
	_, _ = o.endWithStatus(ctx, rt.id, session.StatusError, true)
}

// abortReply drops the rest of the reply after a mid-turn provider
// failure. Sentences already in the playback queue keep playing and are
// recorded as the companion's fragment; nothing is synthesized twice,
// and listening resumes once the queue drains.
func (o *Orchestrator) abortReply(rt *sessionRuntime, source string, kind reliability.ErrorKind, spoken string) {
	if o.metrics != nil {
		o.metrics.ProviderErrors.WithLabelValues(source, string(kind)).Inc()
	}
	rt.send(protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: rt.id,
		Code:      string(kind),
		Source:    source,
		Retryable: false,
		Detail:    "dropping the rest of the reply",
	})
	rt.post(func() {
		if spoken != "" {
			_ = o.registry.Append(rt.id, session.SpeakerCompanion, spoken, time.Now().UTC())
		}
		if !rt.playback.HoldsFocus() {
			o.setSubstate(rt, SubListening)
		}
	})
}

func (o *Orchestrator) onPlaybackEvent(rt *sessionRuntime, event, itemID string) {
	rt.send(protocol.PlaybackEvent{
		Type:      protocol.TypePlaybackEvent,
		SessionID: rt.id,
		Event:     event,
		ItemID:    itemID,
	})
}

func (o *Orchestrator) observeResponseLatency(rt *sessionRuntime) {
	if o.metrics == nil || rt.lastUserFragmentAt.IsZero() {
		return
	}
	o.metrics.ObserveResponseLatency(time.Since(rt.lastUserFragmentAt))
}

func (o *Orchestrator) saveMessageBestEffort(rec *session.Record, comp summary.Result) {
	ctx, cancel := context.WithTimeout(context.Background(), messageSaveTimeout)
	defer cancel()
	err := o.messages.SaveMessage(ctx, store.Message{
		SessionID:       rec.ID,
		UserID:          rec.UserID,
		CompanionID:     rec.CompanionID,
		ConversationID:  rec.ConversationID,
		Summary:         comp.Summary,
		Fragments:       capFragments(comp.Fragments),
		Stats:           session.ComputeStats(rec, comp.Summary != ""),
		TokenEfficiency: comp.TokenEfficiency,
		CreatedAt:       time.Now().UTC(),
	})
	if err != nil && o.metrics != nil {
		o.metrics.ProviderErrors.WithLabelValues("store", string(reliability.ErrStorage)).Inc()
	}
}

func (o *Orchestrator) setSubstate(rt *sessionRuntime, sub Substate) {
	rt.stateMu.Lock()
	if rt.substate == sub {
		rt.stateMu.Unlock()
		return
	}
	rt.substate = sub
	state := rt.state
	rt.stateMu.Unlock()
	o.sendState(rt, state, sub)
}

func (o *Orchestrator) postSubstate(rt *sessionRuntime, sub Substate) {
	rt.post(func() { o.setSubstate(rt, sub) })
}

func (o *Orchestrator) sendState(rt *sessionRuntime, state State, sub Substate) {
	rt.stateMu.Lock()
	rt.state = state
	rt.stateMu.Unlock()
	rt.send(protocol.StateChanged{
		Type:      protocol.TypeStateChanged,
		SessionID: rt.id,
		State:     string(state),
		Substate:  string(sub),
	})
}

func recentFragmentLines(rec *session.Record) []string {
	const tail = 6
	frags := rec.Fragments
	if len(frags) > tail {
		frags = frags[len(frags)-tail:]
	}
	lines := make([]string, 0, len(frags))
	for _, f := range frags {
		lines = append(lines, fmt.Sprintf("%s: %s", f.Speaker, f.Text))
	}
	return lines
}

func capFragments(lines []string) []string {
	if len(lines) > store.RawFragmentCap {
		return lines[:store.RawFragmentCap]
	}
	return lines
}

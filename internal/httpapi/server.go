package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/keeva/internal/config"
	"github.com/ent0n29/keeva/internal/observability"
	"github.com/ent0n29/keeva/internal/protocol"
	"github.com/ent0n29/keeva/internal/reliability"
	"github.com/ent0n29/keeva/internal/session"
	"github.com/ent0n29/keeva/internal/voice"
)

// Orchestrator is the slice of the voice orchestrator the HTTP layer needs.
type Orchestrator interface {
	StartSession(ctx context.Context, userID, companionID, conversationID, personaID string, player voice.Player, notify func(msg any)) (string, error)
	UpdateTranscription(sessionID, text string, soundLevel float64, isFinal bool)
	ReportError(sessionID string, kind reliability.ErrorKind, recoverable bool)
	SetRecoveryHook(sessionID string, hook func(kind reliability.ErrorKind) error)
	EndSession(ctx context.Context, sessionID string, summarize bool) (voice.EndResult, error)
}

type Server struct {
	cfg        config.Config
	registry   *session.Registry
	orch       Orchestrator
	recognizer voice.Recognizer
	metrics    *observability.Metrics
	upgrader   websocket.Upgrader
}

func New(cfg config.Config, registry *session.Registry, orch Orchestrator, recognizer voice.Recognizer, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:        cfg,
		registry:   registry,
		orch:       orch,
		recognizer: recognizer,
		metrics:    metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only allow browser websocket connections from the same
				// origin, so other sites cannot drive a user's session.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/sessions/{id}", s.handleGetSession)
	r.Post("/v1/sessions/{id}/end", s.handleEndSession)
	r.Get("/v1/sessions/ws", s.handleSessionWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"active_sessions": s.registry.ActiveCount(),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.registry.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	summarize := r.URL.Query().Get("summarize") != "false"
	res, err := s.orch.EndSession(r.Context(), id, summarize)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			respondError(w, http.StatusNotFound, "session_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "end_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":           string(res.Status),
		"summary":          res.Summary,
		"discarded":        res.Discarded,
		"token_efficiency": res.TokenEfficiency,
		"duration_ms":      res.Stats.Duration.Milliseconds(),
	})
}

// handleSessionWS upgrades the connection and runs one voice session over
// it: inbound frames carry transcription updates and control actions,
// outbound frames carry state changes, companion text and audio.
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := strings.TrimSpace(q.Get("user_id"))
	if userID == "" {
		userID = "anonymous"
	}
	companionID := strings.TrimSpace(q.Get("companion_id"))
	if companionID == "" {
		companionID = "default"
	}
	conversationID := strings.TrimSpace(q.Get("conversation_id"))
	personaID := strings.TrimSpace(q.Get("persona"))

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, 256)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	notify := func(msg any) {
		select {
		case outbound <- msg:
		case <-ctx.Done():
		default:
			// Slow client; non-critical events are dropped rather than
			// stalling the session.
		}
	}

	player := &wsPlayer{ctx: ctx, outbound: outbound}
	sessionID, err := s.orch.StartSession(ctx, userID, companionID, conversationID, personaID, player, notify)
	if err != nil {
		_ = conn.WriteJSON(protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: "",
			Code:      "start_failed",
			Source:    "orchestrator",
			Detail:    err.Error(),
		})
		return
	}
	player.sessionID = sessionID

	defer func() {
		endCtx, endCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer endCancel()
		_, _ = s.orch.EndSession(endCtx, sessionID, true)
	}()

	// Server-side recognition is started lazily, on the first audio chunk:
	// clients that run their own recognizer and send client_transcription
	// frames never open an upstream recognizer session. Recognizer
	// failures go through the orchestrator, which owns backoff and
	// restarts the stream via the recovery hook below.
	var (
		recMu         sync.Mutex
		recSession    voice.RecognizerSession
		usedServerRec bool
	)
	dropRecognizer := func(rs voice.RecognizerSession) {
		recMu.Lock()
		if recSession == rs {
			recSession = nil
		}
		recMu.Unlock()
		_ = rs.Close()
	}
	startRecognizer := func() error {
		recMu.Lock()
		defer recMu.Unlock()
		if recSession != nil {
			return nil
		}
		rs, events, err := s.recognizer.StartSession(ctx, sessionID)
		if err != nil {
			return err
		}
		recSession = rs
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-events:
					if !ok {
						return
					}
					switch ev.Type {
					case voice.TranscriptEventPartial, voice.TranscriptEventFinal:
						s.orch.UpdateTranscription(sessionID, ev.Text, ev.SoundLevel, ev.Type == voice.TranscriptEventFinal)
					case voice.TranscriptEventError:
						dropRecognizer(rs)
						s.orch.ReportError(sessionID, reliability.ErrSpeechRecognition, ev.Retryable)
					}
				}
			}
		}()
		return nil
	}
	defer func() {
		recMu.Lock()
		rs := recSession
		recSession = nil
		recMu.Unlock()
		if rs != nil {
			_ = rs.Close()
		}
	}()
	s.orch.SetRecoveryHook(sessionID, func(kind reliability.ErrorKind) error {
		if kind != reliability.ErrSpeechRecognition {
			return nil
		}
		recMu.Lock()
		active := usedServerRec
		recMu.Unlock()
		if !active || s.recognizer == nil {
			// Recognition runs on the client; nothing to reopen here.
			return nil
		}
		return startRecognizer()
	})

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			notify(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_message",
				Source:    "client",
				Detail:    err.Error(),
			})
			continue
		}
		switch msg := parsed.(type) {
		case protocol.ClientTranscription:
			s.orch.UpdateTranscription(sessionID, msg.Text, msg.SoundLevel, msg.IsFinal)
		case protocol.ClientAudioChunk:
			if s.recognizer == nil {
				notify(protocol.ErrorEvent{
					Type:      protocol.TypeErrorEvent,
					SessionID: sessionID,
					Code:      "recognizer_unavailable",
					Source:    "speech",
					Detail:    "server-side recognition is not configured",
				})
				continue
			}
			recMu.Lock()
			usedServerRec = true
			recMu.Unlock()
			if err := startRecognizer(); err != nil {
				s.orch.ReportError(sessionID, reliability.ErrSpeechRecognition, true)
				continue
			}
			recMu.Lock()
			rs := recSession
			recMu.Unlock()
			if rs == nil {
				continue
			}
			if err := rs.SendAudioChunk(ctx, msg.PCM16Base64, msg.SampleRate, msg.Commit); err != nil {
				dropRecognizer(rs)
				s.orch.ReportError(sessionID, reliability.ErrSpeechRecognition, true)
			}
		case protocol.ClientControl:
			switch msg.Action {
			case protocol.ActionEndSession:
				return
			case protocol.ActionBargeIn:
				s.orch.UpdateTranscription(sessionID, "", 1.0, false)
			case protocol.ActionReportError:
				kind, ok := reliability.ParseErrorKind(msg.Code)
				if !ok {
					notify(protocol.ErrorEvent{
						Type:      protocol.TypeErrorEvent,
						SessionID: sessionID,
						Code:      "invalid_error_code",
						Source:    "client",
						Detail:    "unknown error code " + msg.Code,
					})
					continue
				}
				s.orch.ReportError(sessionID, kind, msg.Recoverable)
			}
		}
	}
}

// wsPlayer streams each synthesized WAV to the client and paces itself on
// the clip's real duration so barge-in interrupts at a faithful point.
type wsPlayer struct {
	ctx       context.Context
	outbound  chan any
	sessionID string
}

func (p *wsPlayer) Play(ctx context.Context, wavPath string) error {
	data, err := os.ReadFile(wavPath)
	if err != nil {
		return err
	}
	dur := wavDuration(data)

	msg := protocol.CompanionAudio{
		Type:        protocol.TypeCompanionAudio,
		SessionID:   p.sessionID,
		ItemID:      wavPath,
		Format:      "wav",
		AudioBase64: base64.StdEncoding.EncodeToString(data),
		DurationMs:  dur.Milliseconds(),
	}
	select {
	case p.outbound <- msg:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return p.ctx.Err()
	}

	select {
	case <-time.After(dur):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return p.ctx.Err()
	}
}

// wavDuration derives playback time from the PCM16 mono header.
func wavDuration(data []byte) time.Duration {
	if len(data) < 44 {
		return 0
	}
	rate := binary.LittleEndian.Uint32(data[24:28])
	if rate == 0 {
		return 0
	}
	samples := (len(data) - 44) / 2
	return time.Duration(samples) * time.Second / time.Duration(rate)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

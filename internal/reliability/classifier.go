package reliability

import "time"

// ErrorKind labels a session-level failure for retry policy decisions.
type ErrorKind string

const (
	ErrMicrophonePermission ErrorKind = "microphone_permission"
	ErrSessionTimeout       ErrorKind = "session_timeout"
	ErrSpeechRecognition    ErrorKind = "speech_recognition_failed"
	ErrTTSGeneration        ErrorKind = "tts_generation_failed"
	ErrAIResponse           ErrorKind = "ai_response_failed"
	ErrSummaryGeneration    ErrorKind = "summary_generation_failed"
	ErrStorage              ErrorKind = "storage_error"
	ErrNetwork              ErrorKind = "network_error"
)

// ParseErrorKind maps a wire code to a known kind. Unknown codes are
// rejected so clients cannot invent failure classes.
func ParseErrorKind(code string) (ErrorKind, bool) {
	switch kind := ErrorKind(code); kind {
	case ErrMicrophonePermission, ErrSessionTimeout, ErrSpeechRecognition,
		ErrTTSGeneration, ErrAIResponse, ErrSummaryGeneration,
		ErrStorage, ErrNetwork:
		return kind, true
	default:
		return "", false
	}
}

// IsRetryable reports whether a kind may be retried automatically.
// Permission, timeout, and storage failures always need host intervention.
func IsRetryable(kind ErrorKind) bool {
	switch kind {
	case ErrSpeechRecognition, ErrTTSGeneration, ErrAIResponse, ErrNetwork:
		return true
	default:
		return false
	}
}

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsRetryableRealtimeMessageType classifies retryable upstream realtime errors.
func IsRetryableRealtimeMessageType(messageType string) bool {
	switch messageType {
	case "rate_limited", "resource_exhausted", "queue_overflow", "error":
		return true
	default:
		return false
	}
}

// ExponentialBackoff computes a deterministic capped backoff duration.
// Attempt is zero-based: attempt 0 waits base, attempt 1 waits 2*base.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}

package session

import "time"

// Stats is a read-only snapshot computed once at termination.
type Stats struct {
	Duration            time.Duration `json:"duration"`
	ExchangeCount       int           `json:"exchange_count"`
	UserFragments       int           `json:"user_fragments"`
	CompanionFragments  int           `json:"companion_fragments"`
	MeanResponseLatency time.Duration `json:"mean_response_latency"`
	Summarized          bool          `json:"summarized"`
}

// ComputeStats derives the terminal snapshot from the record. Response
// latency is measured from each user fragment to the companion fragment
// that directly follows it.
func ComputeStats(r *Record, summarized bool) Stats {
	s := Stats{
		ExchangeCount: len(r.Fragments),
		Summarized:    summarized,
	}
	if !r.EndTime.IsZero() {
		s.Duration = r.EndTime.Sub(r.StartTime)
	}

	var (
		latencySum   time.Duration
		latencyCount int
		lastUserAt   time.Time
		haveUser     bool
	)
	for _, f := range r.Fragments {
		switch f.Speaker {
		case SpeakerUser:
			s.UserFragments++
			lastUserAt = f.At
			haveUser = true
		case SpeakerCompanion:
			s.CompanionFragments++
			if haveUser && f.At.After(lastUserAt) {
				latencySum += f.At.Sub(lastUserAt)
				latencyCount++
				haveUser = false
			}
		}
	}
	if latencyCount > 0 {
		s.MeanResponseLatency = latencySum / time.Duration(latencyCount)
	}
	return s
}

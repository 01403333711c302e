package cohort

import "time"

// SeverityScorer is the external organ-dysfunction scoring
// collaborator. The pipeline hands it a 24-hour window anchored at the
// culture order (clamped to discharge) and stores whatever score it
// returns. A nil scorer, or an error, leaves the score not-evaluable.
type SeverityScorer interface {
	Score(hospitalizationID string, start, end time.Time) (float64, error)
}

// severityWindow returns the scoring window for one eligible
// hospitalization.
func severityWindow(anchor, discharge time.Time) (time.Time, time.Time) {
	end := anchor.Add(24 * time.Hour)
	if end.After(discharge) {
		end = discharge
	}
	return anchor, end
}

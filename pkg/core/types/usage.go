package types

// Usage contains cumulative token counts for a session. The backend reports
// totals periodically; within one session the totals never decrease.
type Usage struct {
	InputTokens  int            `json:"input_tokens"`
	OutputTokens int            `json:"output_tokens"`
	TotalTokens  int            `json:"total_tokens"`
	ByModality   map[string]int `json:"by_modality,omitempty"`
}

// Merge folds a fresh report into u without ever lowering a total. Backends
// may resend stale snapshots after a resume; those are ignored. The result
// carries its own ByModality map: earlier snapshots of u stay valid while
// later merges run.
func (u Usage) Merge(report Usage) Usage {
	out := u
	if report.InputTokens > out.InputTokens {
		out.InputTokens = report.InputTokens
	}
	if report.OutputTokens > out.OutputTokens {
		out.OutputTokens = report.OutputTokens
	}
	if report.TotalTokens > out.TotalTokens {
		out.TotalTokens = report.TotalTokens
	}
	if len(u.ByModality) > 0 || len(report.ByModality) > 0 {
		out.ByModality = make(map[string]int, len(u.ByModality)+len(report.ByModality))
		for modality, count := range u.ByModality {
			out.ByModality[modality] = count
		}
		for modality, count := range report.ByModality {
			if count > out.ByModality[modality] {
				out.ByModality[modality] = count
			}
		}
	}
	return out
}

// IsEmpty returns true if the usage has no tokens.
func (u Usage) IsEmpty() bool {
	return u.InputTokens == 0 && u.OutputTokens == 0 && u.TotalTokens == 0
}

package models

import "time"

// RunResult holds the overall result of one pipeline run.
type RunResult struct {
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	Products   []string  `json:"products"`
	Document   string    `json:"document,omitempty"`
	Mosaics    []string  `json:"mosaics,omitempty"`
	CardsCut   int       `json:"cards_cut"`
	Requests   int       `json:"requests"`
	CacheHits  int       `json:"cache_hits"`
	CacheMiss  int       `json:"cache_misses"`
	ToolCalls  int       `json:"tool_calls"`
	StagesRun  int       `json:"stages_built"`
	StagesSkip int       `json:"stages_skipped"`
}

// Duration is the wall time of the run.
func (r *RunResult) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

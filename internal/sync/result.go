package sync

import "time"

// Result describes the outcome of one reconciliation pass
type Result struct {
	// RunID identifies the pass in logs and traces
	RunID string `json:"run_id"`

	// Skipped is true when the run guard stopped the pass before any request
	Skipped bool `json:"skipped"`

	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	// AnnotationCount is the number of distinct annotation contents found
	AnnotationCount int `json:"annotation_count"`
	// AnnotationPages is the number of annotation pages fetched
	AnnotationPages int `json:"annotation_pages"`
	// TagCount is the number of tags returned by Bitbucket
	TagCount int `json:"tag_count"`

	// Created lists the tags annotated during this pass, in processing order
	Created []string `json:"created"`
	// Failed lists the tags whose annotation could not be created
	Failed []string `json:"failed"`
}

// NewTagCount returns how many tags had no annotation at the start of the pass
func (r *Result) NewTagCount() int {
	return len(r.Created) + len(r.Failed)
}

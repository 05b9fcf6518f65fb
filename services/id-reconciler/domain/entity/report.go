package entity

import "time"

// Mode selects whether a run mutates the store
type Mode string

const (
	ModeDryRun  Mode = "dry-run"
	ModeExecute Mode = "execute"
)

// Verdict is the global outcome of a verification
type Verdict string

const (
	VerdictPass Verdict = "pass"
	VerdictFail Verdict = "fail"
)

// FieldReport is the scan result for one reference field of a collection
type FieldReport struct {
	Collection string                      `json:"collection"`
	Field      string                      `json:"field"`
	Target     EntityType                  `json:"target"`
	Optional   bool                        `json:"optional"`
	Counts     Counts                      `json:"counts"`
	Samples    map[Classification][]Sample `json:"samples,omitempty"`
	// Elements beyond the per-document array bound, not classified
	Skipped int64 `json:"skipped_elements,omitempty"`
}

// CollectionScan is the result of scanning every reference field of a collection
type CollectionScan struct {
	Collection string         `json:"collection"`
	Documents  int64          `json:"documents"`
	Fields     []*FieldReport `json:"fields"`
	// Legacy values for the reconciler, in cursor order
	Flagged []Reference `json:"-"`
	// Broken non-null values, used by the orphan check
	Broken []Reference `json:"-"`
}

// Field returns the report for path
func (s *CollectionScan) Field(path string) *FieldReport {
	for _, f := range s.Fields {
		if f.Field == path {
			return f
		}
	}
	return nil
}

// Totals sums the counts of all fields
func (s *CollectionScan) Totals() Counts {
	var total Counts
	for _, f := range s.Fields {
		total.Merge(f.Counts)
	}
	return total
}

// ReviewItem is a reference that could not be resolved and was left as
// its string form for a person to look at
type ReviewItem struct {
	Collection string     `json:"collection"`
	DocumentID string     `json:"document_id"`
	Path       string     `json:"path"`
	Raw        string     `json:"raw"`
	Target     EntityType `json:"target"`
	Reason     string     `json:"reason"`
}

// PlannedWrite is one field rewrite computed by the reconciler
type PlannedWrite struct {
	DocumentID string      `json:"document_id"`
	Path       string      `json:"path"`
	From       string      `json:"from"`
	To         string      `json:"to"`
	Resolved   bool        `json:"resolved"`
	Target     EntityType  `json:"target"`
	Raw        interface{} `json:"-"`
}

// CollectionSummary is one row of the run summary
type CollectionSummary struct {
	Collection string `json:"collection"`
	Total      int64  `json:"total"`
	// Documents lacking a string id that were (or would be) assigned one
	Backfill int64 `json:"backfill"`
	// Documents with at least one legacy reference to rewrite
	Rewrite int64 `json:"rewrite"`
	// Documents actually modified (execute mode only)
	Updated    int64 `json:"updated"`
	Review     int64 `json:"review"`
	Duplicates int64 `json:"duplicates"`
	Deleted    int64 `json:"deleted"`
	Orphans    int64 `json:"orphans"`
	Conflicts  int64 `json:"conflicts"`
	Errors     int64 `json:"errors"`

	IndexCreated bool           `json:"index_created,omitempty"`
	Writes       []PlannedWrite `json:"planned_writes,omitempty"`
	ReviewItems  []ReviewItem   `json:"review_items,omitempty"`
	ErrorDetails []string       `json:"error_details,omitempty"`
}

// RunSummary is the outcome of one reconciliation run
type RunSummary struct {
	RunID       string               `json:"run_id"`
	Mode        Mode                 `json:"mode"`
	StartedAt   time.Time            `json:"started_at"`
	FinishedAt  time.Time            `json:"finished_at"`
	Interrupted bool                 `json:"interrupted,omitempty"`
	Collections []*CollectionSummary `json:"collections"`
}

// Errors returns the total error count across collections
func (r *RunSummary) Errors() int64 {
	var n int64
	for _, c := range r.Collections {
		n += c.Errors
	}
	return n
}

// Collection returns the summary row for name, creating it when absent
func (r *RunSummary) Collection(name string) *CollectionSummary {
	for _, c := range r.Collections {
		if c.Collection == name {
			return c
		}
	}
	c := &CollectionSummary{Collection: name}
	r.Collections = append(r.Collections, c)
	return c
}

// CollectionVerification is the verifier's result for one collection
type CollectionVerification struct {
	Collection    string         `json:"collection"`
	Documents     int64          `json:"documents"`
	Fields        []*FieldReport `json:"fields"`
	Orphans       int64          `json:"orphans"`
	OrphanSamples []Sample       `json:"orphan_samples,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// VerificationReport is the verifier's structured output
type VerificationReport struct {
	RunID       string                    `json:"run_id"`
	CheckedAt   time.Time                 `json:"checked_at"`
	Collections []*CollectionVerification `json:"collections"`
	Valid       int64                     `json:"valid"`
	Legacy      int64                     `json:"legacy"`
	Broken      int64                     `json:"broken"`
	Orphans     int64                     `json:"orphans"`
	Errors      int64                     `json:"errors"`
	Verdict     Verdict                   `json:"verdict"`
}

// Finalize computes the totals and the verdict
func (r *VerificationReport) Finalize() {
	r.Valid, r.Legacy, r.Broken, r.Orphans, r.Errors = 0, 0, 0, 0, 0
	for _, c := range r.Collections {
		for _, f := range c.Fields {
			r.Valid += f.Counts.Valid
			r.Legacy += f.Counts.Legacy()
			r.Broken += f.Counts.Broken
		}
		r.Orphans += c.Orphans
		if c.Error != "" {
			r.Errors++
		}
	}

	r.Verdict = VerdictFail
	if r.Broken == 0 && r.Legacy == 0 && r.Orphans == 0 && r.Errors == 0 {
		r.Verdict = VerdictPass
	}
}

package models

import "sort"

// ============================================================
// Run report
// ============================================================

type SkipReason string

const (
	ReasonMalformedEntity   SkipReason = "malformed_entity"
	ReasonUnsupportedEntity SkipReason = "unsupported_entity"
	ReasonCyclicBlock       SkipReason = "cyclic_block_reference"
	ReasonUnresolvedBlock   SkipReason = "unresolved_block_reference"
	ReasonDepthExceeded     SkipReason = "block_depth_exceeded"
	ReasonDegenerate        SkipReason = "degenerate_geometry"
)

type SkippedEntity struct {
	Reason SkipReason `json:"reason"`
	Type   string     `json:"type"`
	Handle string     `json:"handle,omitempty"`
	Line   int        `json:"line,omitempty"`
	Block  string     `json:"block,omitempty"`
	Detail string     `json:"detail,omitempty"`
}

type EncodingAttempt struct {
	Encoding string `json:"encoding"`
	Error    string `json:"error,omitempty"`
}

// Report - диагностика одного прогона; заполняется даже для частично битых файлов.
type Report struct {
	RunID            string                   `json:"runId"`
	Source           string                   `json:"source,omitempty"`
	Encoding         string                   `json:"encoding"`
	DeclaredEncoding string                   `json:"declaredEncoding,omitempty"`
	Fallback         bool                     `json:"fallback"`
	Recovered        bool                     `json:"recovered"`
	Attempts         []EncodingAttempt        `json:"attempts"`
	Decoded          int                      `json:"decoded"`
	Skipped          []SkippedEntity          `json:"skipped"`
	SkippedByReason  map[SkipReason]int       `json:"skippedByReason"`
	Ignored          map[string]int           `json:"ignored"`
	Filtered         int                      `json:"filtered"`
	SegmentsProduced int                      `json:"segmentsProduced"`
	Conflicts        []ClassificationConflict `json:"conflicts,omitempty"`
	Warnings         []string                 `json:"warnings,omitempty"`
}

func NewReport(runID string) *Report {
	return &Report{
		RunID:           runID,
		Skipped:         []SkippedEntity{},
		SkippedByReason: make(map[SkipReason]int),
		Ignored:         make(map[string]int),
	}
}

func (r *Report) AddSkipped(items ...SkippedEntity) {
	for _, s := range items {
		r.Skipped = append(r.Skipped, s)
		r.SkippedByReason[s.Reason]++
	}
}

func (r *Report) AddIgnored(counts map[string]int) {
	for typ, n := range counts {
		r.Ignored[typ] += n
	}
}

func (r *Report) Warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

func (r *Report) SkippedCount() int {
	return len(r.Skipped)
}

// ============================================================
// Pipeline result
// ============================================================

type Result struct {
	Report      *Report            `json:"report"`
	Header      Header             `json:"header"`
	Layers      []Layer            `json:"layers"`
	Categories  []WallCategory     `json:"categories,omitempty"`
	Segments    []WallSegment      `json:"segments"`
	Aggregation *AggregationResult `json:"aggregation,omitempty"`
}

type LayerTotal struct {
	Layer string `json:"layer"`
	Rollup
}

// LayerSummary - длины и количество сегментов по слоям, по алфавиту.
func (r *Result) LayerSummary() []LayerTotal {
	totals := make(map[string]*LayerTotal)
	for _, s := range r.Segments {
		t, ok := totals[s.Layer]
		if !ok {
			t = &LayerTotal{Layer: s.Layer}
			totals[s.Layer] = t
		}
		t.Add(s.Length)
	}

	out := make([]LayerTotal, 0, len(totals))
	for _, t := range totals {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Layer < out[j].Layer })
	return out
}

// Segment ищет сегмент по ID.
func (r *Result) Segment(id string) (*WallSegment, bool) {
	for i := range r.Segments {
		if r.Segments[i].ID == id {
			return &r.Segments[i], true
		}
	}
	return nil, false
}

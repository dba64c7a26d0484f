package categorysync

// DeviceRecord is one spreadsheet row describing a requested reassignment.
// Records are immutable once read and discarded after processing.
type DeviceRecord struct {
	// Row is the 1-based spreadsheet row this record came from; 0 for
	// sources without addressable rows (local CSV files report their data
	// row number for logging only).
	Row         int
	DeviceID    string
	DeviceName  string
	NewCategory string
}

// Outcome is the final per-device result of a reassignment attempt.
type Outcome string

const (
	// OutcomeSuccess means the update was issued and, when verification ran,
	// the device reported the target category.
	OutcomeSuccess Outcome = "success"
	// OutcomeUnexpected means the update call returned a non-empty
	// acknowledgment body and verification did not run to confirm it.
	OutcomeUnexpected Outcome = "unexpected"
	// OutcomeSkipped means no update was attempted (invalid row or unknown
	// category name).
	OutcomeSkipped Outcome = "skipped"
	// OutcomeFailed means the lookup or update call failed.
	OutcomeFailed Outcome = "failed"
	// OutcomeTimedOut means the update was issued but verification never saw
	// the target category within the retry budget.
	OutcomeTimedOut Outcome = "timed_out"
)

// RowResult pairs a record with its final outcome.
type RowResult struct {
	Record     DeviceRecord
	Outcome    Outcome
	CategoryID string
	// Detail carries the underlying error message or skip reason for manual
	// remediation; empty on success.
	Detail string
}

// Summary aggregates outcomes across a run.
type Summary struct {
	Succeeded  int
	Unexpected int
	Skipped    int
	Failed     int
	TimedOut   int
}

func (s *Summary) add(outcome Outcome) {
	switch outcome {
	case OutcomeSuccess:
		s.Succeeded++
	case OutcomeUnexpected:
		s.Unexpected++
	case OutcomeSkipped:
		s.Skipped++
	case OutcomeFailed:
		s.Failed++
	case OutcomeTimedOut:
		s.TimedOut++
	}
}

// Total returns the number of records accounted for.
func (s Summary) Total() int {
	return s.Succeeded + s.Unexpected + s.Skipped + s.Failed + s.TimedOut
}

// ExitCode maps the summary to a process exit code: zero unless any device
// failed or timed out.
func (s Summary) ExitCode() int {
	if s.Failed > 0 || s.TimedOut > 0 {
		return 1
	}
	return 0
}

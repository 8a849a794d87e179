package recommendation

import "github.com/kailas-cloud/healthrec/internal/domain/query"

// RefineRequest carries the caller-held refinement state for one round.
// Answers pair with Questions by position; blank answers mean "skipped".
type RefineRequest struct {
	Query           query.Query
	Questions       []string
	Answers         []string
	PreviousMessage string
	Round           int
}

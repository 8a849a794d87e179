// Package batch describes per-record outcomes of catalog ingestion.
package batch

// ItemStatus is the processing outcome of a single ingested record.
type ItemStatus string

// Item status values.
const (
	StatusCreated ItemStatus = "created"
	StatusUpdated ItemStatus = "updated"
	StatusError   ItemStatus = "error"
)

// Result is the outcome of ingesting one record.
type Result struct {
	id     string
	name   string
	status ItemStatus
	err    error
}

// NewStored creates a successful result; created distinguishes inserts from updates.
func NewStored(id, name string, created bool) Result {
	status := StatusUpdated
	if created {
		status = StatusCreated
	}
	return Result{id: id, name: name, status: status}
}

// NewError creates a failed result.
func NewError(id, name string, err error) Result {
	return Result{id: id, name: name, status: StatusError, err: err}
}

// ID returns the record identifier. Empty when the record failed before an id was assigned.
func (r Result) ID() string { return r.id }

// Name returns the service name.
func (r Result) Name() string { return r.name }

// Status returns the processing outcome.
func (r Result) Status() ItemStatus { return r.status }

// Err returns the error, if any.
func (r Result) Err() error { return r.err }

// OK reports whether the record was stored.
func (r Result) OK() bool { return r.status != StatusError }

// Report summarizes one ingestion run.
type Report struct {
	Results    []Result
	Duplicates int // records collapsed before embedding
	Warnings   int // dropped optional fields across all records
}

// Counts tallies results by status.
func (r Report) Counts() (created, updated, failed int) {
	for _, res := range r.Results {
		switch res.status {
		case StatusCreated:
			created++
		case StatusUpdated:
			updated++
		case StatusError:
			failed++
		}
	}
	return created, updated, failed
}

// Errors returns the failed results.
func (r Report) Errors() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.status == StatusError {
			out = append(out, res)
		}
	}
	return out
}

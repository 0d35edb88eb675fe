package store

import "time"

// Result is the delivery outcome recorded with a log entry. Entries
// written before the result column existed stay ResultUnknown.
type Result int8

const (
	ResultUnknown Result = iota
	ResultSent
	ResultFailed
)

func (r Result) String() string {
	switch r {
	case ResultSent:
		return "sent"
	case ResultFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ResultClass narrows a query to sent or failed entries. The zero value
// applies no result filter.
type ResultClass string

const (
	ClassAny    ResultClass = ""
	ClassSent   ResultClass = "sent"
	ClassFailed ResultClass = "failed"
)

type LogRecord struct {
	ID           int64
	ToEmail      string
	Subject      string
	Message      string
	Headers      string
	Attachments  bool
	SentDate     time.Time
	Result       Result
	ErrorMessage string
}

// Filter selects log entries. Empty fields do not filter.
type Filter struct {
	Term   string // substring of to_email or subject
	Date   string // YYYY-MM-DD, compared with the date part of sent_date
	Result ResultClass
}

// Sort is an untrusted column/direction pair. It is mapped onto the
// allow-list before use.
type Sort struct {
	Column    string
	Direction string
}

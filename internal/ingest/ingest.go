// Package ingest turns "mail about to be sent" events into log entries.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.io/infrasutra/emaillog/internal/headers"
	"github.io/infrasutra/emaillog/internal/store"
)

// Keys recognised in a MailInfo event.
const (
	KeyTo           = "to"
	KeySubject      = "subject"
	KeyMessage      = "message"
	KeyHTML         = "html" // body key used by producers that send HTML only
	KeyHeaders      = "headers"
	KeyAttachments  = "attachments"
	KeyResult       = "result"
	KeyErrorMessage = "error_message"
)

// MailInfo is the loosely structured event delivered by a mail hook. Every
// key is optional.
type MailInfo map[string]any

// Inserter is the write side of a site's log table.
type Inserter interface {
	InsertRecord(ctx context.Context, rec store.LogRecord) (store.LogRecord, error)
}

type Ingester struct {
	logs       Inserter
	logger     *slog.Logger
	onRecorded func(store.LogRecord)
}

type Option func(*Ingester)

// WithRecordedHook registers fn to run after every successful insert. The
// record passed to fn is the stored entry, with its id and sent_date.
func WithRecordedHook(fn func(store.LogRecord)) Option {
	return func(i *Ingester) {
		i.onRecorded = fn
	}
}

func New(logs Inserter, logger *slog.Logger, opts ...Option) *Ingester {
	if logger == nil {
		logger = slog.Default()
	}
	i := &Ingester{logs: logs, logger: logger}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Log records info and returns it unchanged so that later consumers of the
// same event see exactly what the producer sent. Storage failures are
// logged, not returned.
func (i *Ingester) Log(ctx context.Context, info MailInfo) MailInfo {
	if _, err := i.Record(ctx, info); err != nil {
		i.logger.Error("log email", "error", err)
	}
	return info
}

// Record normalizes info into a log entry, inserts it and returns its id.
// info is only read.
func (i *Ingester) Record(ctx context.Context, info MailInfo) (int64, error) {
	stored, err := i.logs.InsertRecord(ctx, Normalize(info))
	if err != nil {
		return 0, fmt.Errorf("record email: %w", err)
	}
	if i.onRecorded != nil {
		i.onRecorded(stored)
	}
	return stored.ID, nil
}

// Normalize converts an event into the fields of a log entry. Missing or
// unexpected values become empty strings.
func Normalize(info MailInfo) store.LogRecord {
	rec := store.LogRecord{
		ToEmail:     joinRecipients(info[KeyTo]),
		Subject:     stringValue(info[KeySubject]),
		Headers:     joinHeaders(info[KeyHeaders]),
		Attachments: truthy(info[KeyAttachments]),
	}
	if message, ok := info[KeyMessage]; ok && message != nil {
		rec.Message = stringValue(message)
	} else {
		rec.Message = stringValue(info[KeyHTML])
	}
	if result, ok := info[KeyResult].(bool); ok {
		if result {
			rec.Result = store.ResultSent
		} else {
			rec.Result = store.ResultFailed
			rec.ErrorMessage = stringValue(info[KeyErrorMessage])
		}
	}
	return rec
}

func joinRecipients(value any) string {
	list := stringList(value)
	if list == nil {
		return stringValue(value)
	}
	cleaned := make([]string, 0, len(list))
	for _, addr := range list {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	return strings.Join(cleaned, ",")
}

func joinHeaders(value any) string {
	switch v := value.(type) {
	case map[string]string:
		return headers.Join(v)
	case map[string]any:
		structured := make(map[string]string, len(v))
		for key, raw := range v {
			if list := stringList(raw); list != nil {
				structured[key] = headers.JoinValues(list)
				continue
			}
			structured[key] = strings.TrimSpace(stringValue(raw))
		}
		return headers.Join(structured)
	case map[string][]string:
		structured := make(map[string]string, len(v))
		for key, list := range v {
			structured[key] = headers.JoinValues(list)
		}
		return headers.Join(structured)
	}
	if list := stringList(value); list != nil {
		return strings.Join(list, "\n")
	}
	return stringValue(value)
}

// stringList returns the elements of a list value, or nil when value is
// not a list.
func stringList(value any) []string {
	switch v := value.(type) {
	case []string:
		return append([]string{}, v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, stringValue(item))
		}
		return out
	}
	return nil
}

func stringValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	case bool, int, int32, int64, uint, uint32, uint64, float32, float64:
		return fmt.Sprint(v)
	}
	return ""
}

func truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return strings.TrimSpace(v) != ""
	case []string:
		return len(v) > 0
	case []any:
		return len(v) > 0
	case int:
		return v != 0
	case int64:
		return v != 0
	}
	return false
}

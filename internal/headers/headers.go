// Package headers converts between the structured header map used when an
// email is logged and the raw header block stored alongside the log entry.
//
// Only five headers are understood: From, CC, BCC, Reply-to and
// Content-type. Anything else is dropped on parse.
package headers

import "strings"

// Canonical keys of the structured header map.
const (
	From        = "from"
	CC          = "cc"
	BCC         = "bcc"
	ReplyTo     = "reply_to"
	ContentType = "content_type"
)

type field struct {
	key   string
	label string
	name  string // lower-cased header name as it appears on the wire
}

// fields is ordered; Join emits lines in this order.
var fields = []field{
	{key: From, label: "From", name: "from"},
	{key: CC, label: "CC", name: "cc"},
	{key: BCC, label: "BCC", name: "bcc"},
	{key: ReplyTo, label: "Reply-to", name: "reply-to"},
	{key: ContentType, label: "Content-type", name: "content-type"},
}

var keyByName = func() map[string]string {
	m := make(map[string]string, len(fields))
	for _, f := range fields {
		m[f.name] = f.key
	}
	return m
}()

// Keys returns the canonical header keys in emission order.
func Keys() []string {
	keys := make([]string, 0, len(fields))
	for _, f := range fields {
		keys = append(keys, f.key)
	}
	return keys
}

// Join renders the known keys of h as "Label: value\r\n" lines. Absent and
// empty values are skipped. Values are written as-is.
func Join(h map[string]string) string {
	var b strings.Builder
	for _, f := range fields {
		value, ok := h[f.key]
		if !ok || value == "" {
			continue
		}
		b.WriteString(f.label)
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteString("\r\n")
	}
	return b.String()
}

// Parse extracts the known headers from a raw header block. Everything after
// the first colon of a line is the value. Lines without a colon, blank
// values and unknown header names are skipped.
func Parse(raw string) map[string]string {
	parsed := map[string]string{}
	if raw == "" {
		return parsed
	}
	for _, line := range strings.Split(raw, "\n") {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		key, known := keyByName[strings.ToLower(strings.TrimSpace(name))]
		if !known {
			continue
		}
		parsed[key] = value
	}
	return parsed
}

// JoinValues flattens a multi-valued header into a single comma separated
// value, dropping blank entries.
func JoinValues(values []string) string {
	cleaned := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	return strings.Join(cleaned, ", ")
}

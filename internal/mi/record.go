package mi

import (
	"fmt"
	"strconv"
	"strings"
)

// ResultClass classifies a result record.
type ResultClass int

const (
	// ClassDone indicates the command completed successfully.
	ClassDone ResultClass = iota
	// ClassRunning indicates the inferior has begun execution.
	ClassRunning
	// ClassConnected indicates a target connection was established.
	ClassConnected
	// ClassError indicates the command failed; the msg field carries the reason.
	ClassError
	// ClassExit indicates the backend is exiting.
	ClassExit
	// ClassOther covers result classes this package does not interpret.
	ClassOther
)

// String returns the MI spelling of the result class.
func (c ResultClass) String() string {
	switch c {
	case ClassDone:
		return "done"
	case ClassRunning:
		return "running"
	case ClassConnected:
		return "connected"
	case ClassError:
		return "error"
	case ClassExit:
		return "exit"
	default:
		return "other"
	}
}

// resultClassOf maps an MI class word to a ResultClass.
func resultClassOf(word string) ResultClass {
	switch word {
	case "done":
		return ClassDone
	case "running":
		return ClassRunning
	case "connected":
		return ClassConnected
	case "error":
		return ClassError
	case "exit":
		return ClassExit
	default:
		return ClassOther
	}
}

// Response is the structured outcome of a command: a result classification
// plus the record's top-level fields.
type Response struct {
	// Token is the request token echoed by the backend, or 0 if absent.
	Token int

	// Class is the result classification.
	Class ResultClass

	// Fields holds the record's top-level key/value pairs. String values
	// are unescaped; tuple and list values are kept as raw text.
	Fields map[string]string
}

// Message returns the backend's msg field, typically set on error records.
func (r Response) Message() string {
	return r.Fields["msg"]
}

// AsyncKind classifies an asynchronous record.
type AsyncKind int

const (
	// AsyncExec reports a change in the inferior's execution state (*stopped, *running).
	AsyncExec AsyncKind = iota
	// AsyncStatus reports progress of a slow operation (+download).
	AsyncStatus
	// AsyncNotify reports supplementary information (=thread-group-started).
	AsyncNotify
)

// AsyncRecord is an out-of-band record pushed by the backend.
type AsyncRecord struct {
	Kind   AsyncKind
	Class  string // e.g. "stopped", "running", "thread-group-started"
	Fields map[string]string
}

// PID extracts the pid field as an integer, or 0 if absent or malformed.
func (a AsyncRecord) PID() int {
	pid, err := strconv.Atoi(a.Fields["pid"])
	if err != nil {
		return 0
	}
	return pid
}

// StreamKind classifies a stream record.
type StreamKind int

const (
	// StreamConsole is console output meant for the user (~"...").
	StreamConsole StreamKind = iota
	// StreamTarget is output produced by the inferior (@"...").
	StreamTarget
	// StreamLog is the backend's own log output (&"...").
	StreamLog
)

// Record is a single classified output line.
type Record struct {
	// Exactly one of the following is meaningful, per Type.
	Type RecordType

	Result Response
	Async  AsyncRecord

	StreamKind StreamKind
	StreamText string
}

// RecordType discriminates Record.
type RecordType int

const (
	// RecordResult is a token-correlated command result.
	RecordResult RecordType = iota
	// RecordAsync is an out-of-band async record.
	RecordAsync
	// RecordStream is console/target/log output.
	RecordStream
	// RecordPrompt is the "(gdb)" ready prompt.
	RecordPrompt
)

// ParseRecord classifies one output line. Lines that match no MI form are
// reported as an error; callers generally log and skip them.
func ParseRecord(line string) (Record, error) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return Record{}, fmt.Errorf("empty record")
	}

	if line == "(gdb)" || line == "(gdb) " {
		return Record{Type: RecordPrompt}, nil
	}

	// Optional leading token.
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	token := 0
	if i > 0 {
		token, _ = strconv.Atoi(line[:i])
	}
	if i >= len(line) {
		return Record{}, fmt.Errorf("truncated record: %q", line)
	}

	marker := line[i]
	rest := line[i+1:]

	switch marker {
	case '^':
		class, fields, err := parseClassAndFields(rest)
		if err != nil {
			return Record{}, err
		}
		return Record{
			Type: RecordResult,
			Result: Response{
				Token:  token,
				Class:  resultClassOf(class),
				Fields: fields,
			},
		}, nil

	case '*', '+', '=':
		class, fields, err := parseClassAndFields(rest)
		if err != nil {
			return Record{}, err
		}
		kind := AsyncExec
		switch marker {
		case '+':
			kind = AsyncStatus
		case '=':
			kind = AsyncNotify
		}
		return Record{
			Type:  RecordAsync,
			Async: AsyncRecord{Kind: kind, Class: class, Fields: fields},
		}, nil

	case '~', '@', '&':
		text, err := parseCString(rest)
		if err != nil {
			return Record{}, fmt.Errorf("stream record: %w", err)
		}
		kind := StreamConsole
		switch marker {
		case '@':
			kind = StreamTarget
		case '&':
			kind = StreamLog
		}
		return Record{Type: RecordStream, StreamKind: kind, StreamText: text}, nil
	}

	return Record{}, fmt.Errorf("unrecognized record: %q", line)
}

// parseClassAndFields splits "class,key=value,..." into its class word and
// top-level fields.
func parseClassAndFields(s string) (string, map[string]string, error) {
	comma := strings.IndexByte(s, ',')
	if comma < 0 {
		if s == "" {
			return "", nil, fmt.Errorf("missing record class")
		}
		return s, map[string]string{}, nil
	}

	class := s[:comma]
	if class == "" {
		return "", nil, fmt.Errorf("missing record class")
	}

	fields, err := parseFields(s[comma+1:])
	if err != nil {
		return "", nil, err
	}
	return class, fields, nil
}

// parseFields extracts top-level key=value pairs. String values are
// unescaped; tuple {...} and list [...] values are returned verbatim.
func parseFields(s string) (map[string]string, error) {
	fields := make(map[string]string)

	for len(s) > 0 {
		eq := strings.IndexByte(s, '=')
		if eq <= 0 {
			return nil, fmt.Errorf("malformed field near %q", s)
		}
		key := s[:eq]
		s = s[eq+1:]
		if s == "" {
			return nil, fmt.Errorf("missing value for field %q", key)
		}

		switch s[0] {
		case '"':
			val, rest, err := scanCString(s)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", key, err)
			}
			fields[key] = val
			s = rest
		case '{', '[':
			raw, rest, err := scanBalanced(s)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", key, err)
			}
			fields[key] = raw
			s = rest
		default:
			return nil, fmt.Errorf("field %q: unexpected value start %q", key, s[0])
		}

		if len(s) > 0 {
			if s[0] != ',' {
				return nil, fmt.Errorf("expected field separator near %q", s)
			}
			s = s[1:]
		}
	}

	return fields, nil
}

// parseCString parses a complete quoted c-string.
func parseCString(s string) (string, error) {
	val, rest, err := scanCString(s)
	if err != nil {
		return "", err
	}
	if rest != "" {
		return "", fmt.Errorf("trailing data after string: %q", rest)
	}
	return val, nil
}

// scanCString consumes a leading quoted c-string and returns the unescaped
// value plus the remainder.
func scanCString(s string) (string, string, error) {
	if len(s) == 0 || s[0] != '"' {
		return "", "", fmt.Errorf("expected quoted string")
	}

	var b strings.Builder
	i := 1
	for i < len(s) {
		c := s[i]
		switch c {
		case '"':
			return b.String(), s[i+1:], nil
		case '\\':
			i++
			if i >= len(s) {
				return "", "", fmt.Errorf("unterminated escape")
			}
			switch s[i] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			case '\\', '"':
				b.WriteByte(s[i])
			default:
				// Unknown escape, keep verbatim.
				b.WriteByte('\\')
				b.WriteByte(s[i])
			}
		default:
			b.WriteByte(c)
		}
		i++
	}
	return "", "", fmt.Errorf("unterminated string")
}

// scanBalanced consumes a leading balanced {...} or [...] value verbatim,
// honoring nested brackets and quoted strings.
func scanBalanced(s string) (string, string, error) {
	depth := 0
	i := 0
	for i < len(s) {
		switch s[i] {
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return s[:i+1], s[i+1:], nil
			}
		case '"':
			_, rest, err := scanCString(s[i:])
			if err != nil {
				return "", "", err
			}
			i = len(s) - len(rest)
			continue
		}
		i++
	}
	return "", "", fmt.Errorf("unbalanced value: %q", s)
}

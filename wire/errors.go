// Package wire implements the PostgreSQL frontend/backend protocol
// building blocks shared by the session driver: SQLSTATE classification,
// ErrorResponse parsing, message framing and parameter encoding.
package wire

import "fmt"

// ErrorKind is the closed set of error kinds a public operation can report.
type ErrorKind int

const (
	OK ErrorKind = iota
	InvalidFuture
	ConnectionClosed
	SocketReadFailed
	ProtocolCorrupt
	ParserTruncatedField
	ParserTruncatedRow
	ParserTruncatedHeader
	ServerError
	AuthFailed
	AwaitCanceled
	Unknown
)

func (k ErrorKind) String() string {
	switch k {
	case OK:
		return "ok"
	case InvalidFuture:
		return "invalid_future"
	case ConnectionClosed:
		return "connection_closed"
	case SocketReadFailed:
		return "socket_read_failed"
	case ProtocolCorrupt:
		return "protocol_corrupt"
	case ParserTruncatedField:
		return "parser_truncated_field"
	case ParserTruncatedRow:
		return "parser_truncated_row"
	case ParserTruncatedHeader:
		return "parser_truncated_header"
	case ServerError:
		return "server_error"
	case AuthFailed:
		return "auth_failed"
	case AwaitCanceled:
		return "await_canceled"
	default:
		return "unknown"
	}
}

// Category is the closed set of SQLSTATE categories from the spec.
type Category int

const (
	Other Category = iota
	ConnectionError
	SyntaxError
	UndefinedObject
	ConstraintViolation
	UniqueViolation
	CheckViolation
	NotNullViolation
	ForeignKeyViolation
	Deadlock
	SerializationFailure
	PrivilegeError
	DataException
	TransactionState
	InternalError
)

func (c Category) String() string {
	switch c {
	case ConnectionError:
		return "connection_error"
	case SyntaxError:
		return "syntax_error"
	case UndefinedObject:
		return "undefined_object"
	case ConstraintViolation:
		return "constraint_violation"
	case UniqueViolation:
		return "unique_violation"
	case CheckViolation:
		return "check_violation"
	case NotNullViolation:
		return "not_null_violation"
	case ForeignKeyViolation:
		return "foreign_key_violation"
	case Deadlock:
		return "deadlock"
	case SerializationFailure:
		return "serialization_failure"
	case PrivilegeError:
		return "privilege_error"
	case DataException:
		return "data_exception"
	case TransactionState:
		return "transaction_state"
	case InternalError:
		return "internal_error"
	default:
		return "other"
	}
}

// exact 5-character SQLSTATE matches, checked before the 2-character class fallback.
var exactSQLStates = map[string]Category{
	"42P01": UndefinedObject,
	"23505": UniqueViolation,
	"23514": CheckViolation,
	"23502": NotNullViolation,
	"23503": ForeignKeyViolation,
	"40P01": Deadlock,
	"40001": SerializationFailure,
	"42501": PrivilegeError,
}

// class-prefix fallback, keyed by the first two SQLSTATE characters.
var classSQLStates = map[string]Category{
	"08": ConnectionError,
	"42": SyntaxError,
	"23": ConstraintViolation,
	"22": DataException,
	"25": TransactionState,
	"40": TransactionState,
	"28": PrivilegeError,
	"XX": InternalError,
}

// ClassifySQLState maps a five-character SQLSTATE code to its category.
// Exact matches win over the two-character class prefix.
func ClassifySQLState(sqlstate string) Category {
	if cat, ok := exactSQLStates[sqlstate]; ok {
		return cat
	}
	if len(sqlstate) >= 2 {
		if cat, ok := classSQLStates[sqlstate[:2]]; ok {
			return cat
		}
	}
	return Other
}

// ErrorFields holds the fields extracted from a PostgreSQL ErrorResponse payload.
type ErrorFields struct {
	Severity string
	SQLState string
	Message  string
	Detail   string
	Hint     string
}

// ParseErrorFields walks a tagged, NUL-terminated ErrorResponse payload.
// Unknown tags are skipped; parsing stops at a zero tag byte.
func ParseErrorFields(payload []byte) ErrorFields {
	var f ErrorFields
	i := 0
	for i < len(payload) {
		tag := payload[i]
		if tag == 0 {
			break
		}
		i++
		start := i
		for i < len(payload) && payload[i] != 0 {
			i++
		}
		val := string(payload[start:i])
		if i < len(payload) {
			i++ // skip the NUL terminator
		}
		switch tag {
		case 'S':
			f.Severity = val
		case 'C':
			f.SQLState = val
		case 'M':
			f.Message = val
		case 'D':
			f.Detail = val
		case 'H':
			f.Hint = val
		}
	}
	return f
}

// ErrorDetail is the caller-visible detail attached to a failed QueryResult.
type ErrorDetail struct {
	SQLState string
	Message  string
	Detail   string
	Hint     string
	Category Category
}

func (d ErrorDetail) String() string {
	return fmt.Sprintf("%s: %s (sqlstate=%s category=%s)", d.Category, d.Message, d.SQLState, d.Category)
}

// fatalSubstrings are English substrings that reliably indicate a wrecked
// connection even when the driver didn't classify the failure itself.
// Faithful to the original implementation's heuristic (spec.md §9 open
// question); SQLSTATE class 08 is checked first as the more reliable signal.
var fatalSubstrings = []string{
	"another command is already in progress",
	"could not receive data from server",
	"server closed the connection unexpectedly",
}

// IsFatalError reports whether a result/kind/message combination should be
// treated as connection-wrecking: the caller must reap the session rather
// than recycle it.
func IsFatalError(kind ErrorKind, sqlstate string, message string) bool {
	if kind == SocketReadFailed || kind == ConnectionClosed {
		return true
	}
	if len(sqlstate) >= 2 && sqlstate[:2] == "08" {
		return true
	}
	for _, s := range fatalSubstrings {
		if containsFold(message, s) {
			return true
		}
	}
	return false
}

func containsFold(haystack, needle string) bool {
	if len(needle) == 0 {
		return true
	}
	n := len(haystack) - len(needle)
	for i := 0; i <= n; i++ {
		if equalFold(haystack[i:i+len(needle)], needle) {
			return true
		}
	}
	return false
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if ca >= 'A' && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if cb >= 'A' && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

package wire

import (
	"encoding/binary"
	"fmt"
	"strconv"
)

// ColumnDescriptor names a result column: its original-case name and its
// protocol type OID. Identifier normalisation for matching against
// struct field names is the row mapper's concern (rowmap.Normalize),
// not this package's.
type ColumnDescriptor struct {
	Name string
	OID  uint32
}

// Row is an ordered sequence of nullable text cells. A nil entry is SQL NULL.
type Row []*string

// QueryResult is the outcome of a simple or parameterised query.
type QueryResult struct {
	OK           bool
	Code         ErrorKind
	Error        string
	ErrDetail    ErrorDetail
	Rows         []Row
	RowsValid    bool
	RowsAffected int64
	Columns      []ColumnDescriptor
}

// NewOKResult builds an empty, successful result ready to accumulate rows.
func NewOKResult() *QueryResult {
	return &QueryResult{OK: true, Code: OK, RowsValid: true}
}

// FillServerError populates a result from a raw ErrorResponse payload,
// marking it permanently failed: ok=false, rows_valid=false, code=ServerError.
func FillServerError(result *QueryResult, raw []byte) {
	f := ParseErrorFields(raw)
	result.OK = false
	result.RowsValid = false
	result.Code = ServerError
	result.Error = f.Message
	result.ErrDetail = ErrorDetail{
		SQLState: f.SQLState,
		Message:  f.Message,
		Detail:   f.Detail,
		Hint:     f.Hint,
		Category: ClassifySQLState(f.SQLState),
	}
}

// ExtractRowsAffected parses the numeric tail of a command tag, e.g.
// "UPDATE 7" -> 7. An absent or unparseable tail yields 0.
func ExtractRowsAffected(commandTag string) int64 {
	i := len(commandTag)
	j := i
	for j > 0 && commandTag[j-1] >= '0' && commandTag[j-1] <= '9' {
		j--
	}
	if j == i {
		return 0
	}
	n, err := strconv.ParseInt(commandTag[j:i], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// CopyResult is the outcome of a COPY IN or COPY OUT operation.
type CopyResult struct {
	OK           bool
	Code         ErrorKind
	Error        string
	ErrDetail    ErrorDetail
	RowsAffected int64
}

// CursorChunk is one FETCH FORWARD batch from a server-side cursor.
type CursorChunk struct {
	Rows      []Row
	Done      bool
	OK        bool
	Code      ErrorKind
	Error     string
	ErrDetail ErrorDetail
}

// QueryError adapts a failed QueryResult to the error interface, for
// callers (like rowmap-decoding helpers) that want a plain Go error.
type QueryError struct {
	Result *QueryResult
}

func (e *QueryError) Error() string {
	return "wire: query failed: " + e.Result.Error
}

// DecodeRowDescription parses a RowDescription ('T') payload into column
// descriptors.
func DecodeRowDescription(payload []byte) ([]ColumnDescriptor, error) {
	if len(payload) < 2 {
		return nil, fmt.Errorf("wire: truncated RowDescription")
	}
	count := int(binary.BigEndian.Uint16(payload[0:2]))
	cols := make([]ColumnDescriptor, 0, count)
	i := 2
	for c := 0; c < count; c++ {
		name, next, err := NulString(payload, i)
		if err != nil {
			return nil, err
		}
		i = next
		if i+18 > len(payload) {
			return nil, fmt.Errorf("wire: truncated RowDescription field %d", c)
		}
		// tableOID(4) colAttr(2) typeOID(4) typLen(2) typMod(4) formatCode(2)
		typeOID := binary.BigEndian.Uint32(payload[i+6 : i+10])
		i += 18
		cols = append(cols, ColumnDescriptor{Name: name, OID: typeOID})
	}
	return cols, nil
}

// DecodeDataRow parses a DataRow ('D') payload into a Row, where a -1
// length field means SQL NULL.
func DecodeDataRow(payload []byte) (Row, error) {
	if len(payload) < 2 {
		return nil, fmt.Errorf("wire: truncated DataRow")
	}
	count := int(binary.BigEndian.Uint16(payload[0:2]))
	row := make(Row, count)
	i := 2
	for c := 0; c < count; c++ {
		if i+4 > len(payload) {
			return nil, fmt.Errorf("wire: truncated DataRow field %d", c)
		}
		length := int32(binary.BigEndian.Uint32(payload[i : i+4]))
		i += 4
		if length < 0 {
			row[c] = nil
			continue
		}
		if i+int(length) > len(payload) {
			return nil, fmt.Errorf("wire: truncated DataRow field %d value", c)
		}
		v := string(payload[i : i+int(length)])
		row[c] = &v
		i += int(length)
	}
	return row, nil
}

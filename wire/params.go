package wire

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"

	"github.com/lib/pq"
)

// Protocol OIDs used when encoding parameters.
const (
	OIDUnspecified = 0
	OIDBool        = 16
	OIDInt8        = 20
	OIDInt2        = 21
	OIDInt4        = 23
	OIDJSON        = 114
	OIDFloat4      = 700
	OIDFloat8      = 701
	OIDBoolArray   = 1000
	OIDInt2Array   = 1005
	OIDInt4Array   = 1007
	OIDTextArray   = 1009
	OIDInt8Array   = 1016
	OIDFloat4Array = 1021
	OIDFloat8Array = 1022
	OIDJSONB       = 3802
)

// ParamFormat is the wire format code of an encoded parameter.
type ParamFormat int16

const (
	FormatText   ParamFormat = 0
	FormatBinary ParamFormat = 1
)

// ParamSlot is one encoded parameter ready to go on the wire: a NULL
// value has Value == nil.
type ParamSlot struct {
	Value  []byte
	Format ParamFormat
	OID    uint32
}

func nullSlot() ParamSlot {
	return ParamSlot{Value: nil, Format: FormatText, OID: OIDUnspecified}
}

// JSON marks a string as a JSON-typed parameter (OID 114).
type JSON string

// JSONB marks a string as a JSONB-typed parameter (OID 3802).
type JSONB string

// Tuple expands into len(t) distinct parameters, positionally, modelling
// the spec's "tuple-like aggregate expands to N parameters" rule for
// languages without first-class structural tuples.
type Tuple []any

// Arity returns how many wire parameters a value expands into: 1 for
// scalars/strings/arrays/optionals/JSON, N for a Tuple of length N.
func Arity(v any) int {
	if t, ok := v.(Tuple); ok {
		return len(t)
	}
	return 1
}

// EncodeParam encodes one argument into its wire parameter slot(s). The
// returned slice has length Arity(v).
func EncodeParam(v any) ([]ParamSlot, error) {
	if t, ok := v.(Tuple); ok {
		slots := make([]ParamSlot, 0, len(t))
		for _, elem := range t {
			s, err := encodeScalarOrArray(elem)
			if err != nil {
				return nil, err
			}
			slots = append(slots, s)
		}
		return slots, nil
	}
	s, err := encodeScalarOrArray(v)
	if err != nil {
		return nil, err
	}
	return []ParamSlot{s}, nil
}

func encodeScalarOrArray(v any) (ParamSlot, error) {
	if v == nil {
		return nullSlot(), nil
	}

	switch tv := v.(type) {
	case JSON:
		return ParamSlot{Value: []byte(tv), Format: FormatText, OID: OIDJSON}, nil
	case JSONB:
		return ParamSlot{Value: []byte(tv), Format: FormatText, OID: OIDJSONB}, nil
	case bool:
		return ParamSlot{Value: []byte{boolByte(tv)}, Format: FormatBinary, OID: OIDBool}, nil
	case string:
		return ParamSlot{Value: []byte(tv), Format: FormatText, OID: OIDUnspecified}, nil
	}

	rv := reflect.ValueOf(v)

	// pointer / optional<T>: nil -> NULL, else recurse on the pointee.
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nullSlot(), nil
		}
		return encodeScalarOrArray(rv.Elem().Interface())
	}

	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return encodeInt(rv.Int(), rv.Type())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return encodeInt(int64(rv.Uint()), rv.Type())
	case reflect.Float32:
		return encodeFloat32(float32(rv.Float())), nil
	case reflect.Float64:
		return encodeFloat64(rv.Float()), nil
	case reflect.String:
		// A named string type (enumeration-by-string) encodes as its token text.
		return ParamSlot{Value: []byte(rv.String()), Format: FormatText, OID: OIDUnspecified}, nil
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			// []byte is treated as raw text, matching the spec's string-like rule.
			return ParamSlot{Value: rv.Bytes(), Format: FormatText, OID: OIDUnspecified}, nil
		}
		return encodeArray(rv)
	}

	if s, ok := v.(fmt.Stringer); ok {
		return ParamSlot{Value: []byte(s.String()), Format: FormatText, OID: OIDUnspecified}, nil
	}

	return ParamSlot{}, fmt.Errorf("wire: unsupported parameter type %T", v)
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func encodeInt(n int64, t reflect.Type) (ParamSlot, error) {
	switch t.Bits() {
	case 8, 16:
		buf := make([]byte, 2)
		binary.BigEndian.PutUint16(buf, uint16(n))
		return ParamSlot{Value: buf, Format: FormatBinary, OID: OIDInt2}, nil
	case 32:
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, uint32(n))
		return ParamSlot{Value: buf, Format: FormatBinary, OID: OIDInt4}, nil
	default:
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(n))
		return ParamSlot{Value: buf, Format: FormatBinary, OID: OIDInt8}, nil
	}
}

func encodeFloat32(f float32) ParamSlot {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, math.Float32bits(f))
	return ParamSlot{Value: buf, Format: FormatBinary, OID: OIDFloat4}
}

func encodeFloat64(f float64) ParamSlot {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, math.Float64bits(f))
	return ParamSlot{Value: buf, Format: FormatBinary, OID: OIDFloat8}
}

// encodeArray renders a slice/array as a PG text array literal using
// lib/pq's GenericArray, which already implements the `{e1,e2,...}`
// quoting/escaping rules the spec calls for, and picks the matching
// array OID from the element kind.
func encodeArray(rv reflect.Value) (ParamSlot, error) {
	n := rv.Len()
	iface := make([]any, n)
	elemKind := reflect.Invalid
	for i := 0; i < n; i++ {
		ev := rv.Index(i)
		if ev.Kind() == reflect.Ptr {
			if ev.IsNil() {
				iface[i] = nil
				continue
			}
			ev = ev.Elem()
		}
		if elemKind == reflect.Invalid {
			elemKind = ev.Kind()
		}
		iface[i] = ev.Interface()
	}

	dv, err := pq.GenericArray{A: iface}.Value()
	if err != nil {
		return ParamSlot{}, fmt.Errorf("wire: encode array: %w", err)
	}
	var text string
	switch t := dv.(type) {
	case string:
		text = t
	case []byte:
		text = string(t)
	default:
		return ParamSlot{}, fmt.Errorf("wire: unexpected array encoding %T", dv)
	}

	return ParamSlot{Value: []byte(text), Format: FormatText, OID: arrayOID(elemKind)}, nil
}

func arrayOID(k reflect.Kind) uint32 {
	switch k {
	case reflect.Bool:
		return OIDBoolArray
	case reflect.Int8, reflect.Int16, reflect.Uint8, reflect.Uint16:
		return OIDInt2Array
	case reflect.Int, reflect.Int32, reflect.Uint, reflect.Uint32:
		return OIDInt4Array
	case reflect.Int64, reflect.Uint64:
		return OIDInt8Array
	case reflect.Float32:
		return OIDFloat4Array
	case reflect.Float64:
		return OIDFloat8Array
	default:
		return OIDTextArray
	}
}

package rowmap

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/usub-dev/usubpg/wire"
)

// DecodeError identifies the offending field, the target type, the
// source column name ("?" when unknown) and an up-to-80-char preview of
// the value that failed to decode. The source column's type OID is not
// recorded.
type DecodeError struct {
	Field        string
	TargetType   string
	SourceColumn string
	Value        string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("rowmap: field %s (type %s): cannot decode column %s value %q",
		e.Field, e.TargetType, e.SourceColumn, e.Value)
}

// DecodeRow decodes one row into dest (a pointer to struct), trying
// named mapping first and falling back to positional mapping if not all
// fields could be matched by name — matching exec_simple_query<T>'s
// named-then-positional contract.
func DecodeRow(row wire.Row, cols []wire.ColumnDescriptor, dest any) error {
	if err := DecodeNamed(row, cols, dest); err == nil {
		return nil
	}
	return DecodePositional(row, cols, dest)
}

func structFields(dest any) ([]reflect.StructField, reflect.Value, error) {
	rv := reflect.ValueOf(dest)
	if rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return nil, reflect.Value{}, fmt.Errorf("rowmap: dest must be a non-nil pointer to struct, got %T", dest)
	}
	elem := rv.Elem()
	t := elem.Type()
	fields := make([]reflect.StructField, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" { // unexported
			continue
		}
		fields = append(fields, f)
	}
	return fields, elem, nil
}

// DecodeNamed matches each exported struct field to a column by
// normalised name. If any field has no matching column, it fails with
// "not all fields matched by name: missing=[...], available_cols=[...]".
func DecodeNamed(row wire.Row, cols []wire.ColumnDescriptor, dest any) error {
	fields, elem, err := structFields(dest)
	if err != nil {
		return err
	}

	colIndex := make(map[string]int, len(cols))
	for i, c := range cols {
		colIndex[Normalize(c.Name)] = i
	}

	var missing []string
	for _, f := range fields {
		if _, ok := colIndex[Normalize(f.Name)]; !ok {
			missing = append(missing, f.Name)
		}
	}
	if len(missing) > 0 {
		available := make([]string, len(cols))
		for i, c := range cols {
			available[i] = c.Name
		}
		return fmt.Errorf("rowmap: not all fields matched by name: missing=%v, available_cols=%v", missing, available)
	}

	for _, f := range fields {
		idx := colIndex[Normalize(f.Name)]
		if idx >= len(row) {
			return fmt.Errorf("rowmap: column index %d out of range for row of size %d", idx, len(row))
		}
		fv := elem.FieldByName(f.Name)
		colName := "?"
		if idx < len(cols) {
			colName = cols[idx].Name
		}
		if err := decodeCell(row[idx], fv, f.Name, colName); err != nil {
			return err
		}
	}
	return nil
}

// DecodePositional decodes field i of dest from row cell i, requiring
// row.size >= N (the struct's exported field count).
func DecodePositional(row wire.Row, cols []wire.ColumnDescriptor, dest any) error {
	fields, elem, err := structFields(dest)
	if err != nil {
		return err
	}
	if len(row) < len(fields) {
		return fmt.Errorf("rowmap: positional decode needs %d cells, row has %d", len(fields), len(row))
	}
	for i, f := range fields {
		fv := elem.FieldByName(f.Name)
		colName := "?"
		if i < len(cols) {
			colName = cols[i].Name
		}
		if err := decodeCell(row[i], fv, f.Name, colName); err != nil {
			return err
		}
	}
	return nil
}

func decodeCell(cell *string, fv reflect.Value, fieldName, colName string) error {
	if fv.Kind() == reflect.Ptr {
		if cell == nil || *cell == "" {
			fv.Set(reflect.Zero(fv.Type()))
			return nil
		}
		ptr := reflect.New(fv.Type().Elem())
		if err := decodeScalar(*cell, ptr.Elem(), fieldName, colName); err != nil {
			return err
		}
		fv.Set(ptr)
		return nil
	}
	if cell == nil {
		fv.Set(reflect.Zero(fv.Type()))
		return nil
	}
	return decodeScalar(*cell, fv, fieldName, colName)
}

func decodeScalar(text string, fv reflect.Value, fieldName, colName string) error {
	switch fv.Kind() {
	case reflect.String:
		fv.SetString(text)
		return nil
	case reflect.Bool:
		b, ok := parseBool(text)
		if !ok {
			return &DecodeError{Field: fieldName, TargetType: fv.Type().String(), SourceColumn: colName, Value: preview(text)}
		}
		fv.SetBool(b)
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return &DecodeError{Field: fieldName, TargetType: fv.Type().String(), SourceColumn: colName, Value: preview(text)}
		}
		fv.SetInt(n)
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(text, 10, 64)
		if err != nil {
			return &DecodeError{Field: fieldName, TargetType: fv.Type().String(), SourceColumn: colName, Value: preview(text)}
		}
		fv.SetUint(n)
		return nil
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return &DecodeError{Field: fieldName, TargetType: fv.Type().String(), SourceColumn: colName, Value: preview(text)}
		}
		fv.SetFloat(f)
		return nil
	case reflect.Slice:
		if fv.Type().Elem().Kind() == reflect.Uint8 {
			fv.SetBytes([]byte(text))
			return nil
		}
		return decodeArrayInto(text, fv, fieldName, colName)
	case reflect.Ptr:
		if text == "" {
			fv.Set(reflect.Zero(fv.Type()))
			return nil
		}
		ptr := reflect.New(fv.Type().Elem())
		if err := decodeScalar(text, ptr.Elem(), fieldName, colName); err != nil {
			return err
		}
		fv.Set(ptr)
		return nil
	default:
		return &DecodeError{Field: fieldName, TargetType: fv.Type().String(), SourceColumn: colName, Value: preview(text)}
	}
}

func parseBool(s string) (bool, bool) {
	switch s {
	case "t", "true", "1":
		return true, true
	case "f", "false", "0":
		return false, true
	default:
		return false, false
	}
}

func decodeArrayInto(text string, fv reflect.Value, fieldName, colName string) error {
	elems, err := ParseArrayLiteral(text)
	if err != nil {
		return err
	}
	elemType := fv.Type().Elem()
	out := reflect.MakeSlice(fv.Type(), len(elems), len(elems))
	for i, e := range elems {
		ev := out.Index(i)
		if e.isNull {
			ev.Set(reflect.Zero(elemType))
			continue
		}
		if ev.Kind() == reflect.Ptr {
			if err := decodeCellFromText(e.text, ev, fieldName, colName); err != nil {
				return err
			}
			continue
		}
		if err := decodeScalar(e.text, ev, fieldName, colName); err != nil {
			return err
		}
	}
	fv.Set(out)
	return nil
}

func decodeCellFromText(text string, fv reflect.Value, fieldName, colName string) error {
	s := text
	return decodeCell(&s, fv, fieldName, colName)
}

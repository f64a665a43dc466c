package change

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// Datatypes attached to numeric scalars so they survive JSON and protobuf.
// The binary encoding carries int and uint values as decimal strings.
const (
	DatatypeInt     = "int"
	DatatypeUint    = "uint"
	DatatypeFloat64 = "float64"
)

var (
	ErrUnsupportedValue    = errors.New("unsupported value")
	ErrUnsupportedDatatype = errors.New("unsupported datatype")
)

// NormalizeScalar maps a Go value onto the scalar set a document can hold
// (nil, bool, string, int64, uint64, float64) and returns its datatype tag.
func NormalizeScalar(v any) (any, string, error) {
	switch x := v.(type) {
	case nil:
		return nil, "", nil
	case bool, string:
		return x, "", nil
	case int:
		return int64(x), DatatypeInt, nil
	case int8:
		return int64(x), DatatypeInt, nil
	case int16:
		return int64(x), DatatypeInt, nil
	case int32:
		return int64(x), DatatypeInt, nil
	case int64:
		return x, DatatypeInt, nil
	case uint:
		return uint64(x), DatatypeUint, nil
	case uint8:
		return uint64(x), DatatypeUint, nil
	case uint16:
		return uint64(x), DatatypeUint, nil
	case uint32:
		return uint64(x), DatatypeUint, nil
	case uint64:
		return x, DatatypeUint, nil
	case float32:
		return float64(x), DatatypeFloat64, nil
	case float64:
		return x, DatatypeFloat64, nil
	}
	return nil, "", fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
}

// DecodeScalar restores the Go type of a scalar read back from the wire.
func DecodeScalar(v any, datatype string) (any, error) {
	switch datatype {
	case "":
		if n, ok := v.(json.Number); ok {
			return n.Float64()
		}
		return v, nil
	case DatatypeInt:
		switch x := v.(type) {
		case int64:
			return x, nil
		case float64:
			if x != math.Trunc(x) {
				return nil, fmt.Errorf("%w: %v is not an int", ErrUnsupportedValue, x)
			}
			return int64(x), nil
		case json.Number:
			return x.Int64()
		case string:
			return strconv.ParseInt(x, 10, 64)
		}
	case DatatypeUint:
		switch x := v.(type) {
		case uint64:
			return x, nil
		case float64:
			if x < 0 || x != math.Trunc(x) {
				return nil, fmt.Errorf("%w: %v is not a uint", ErrUnsupportedValue, x)
			}
			return uint64(x), nil
		case json.Number:
			return strconv.ParseUint(x.String(), 10, 64)
		case string:
			return strconv.ParseUint(x, 10, 64)
		}
	case DatatypeFloat64:
		switch x := v.(type) {
		case float64:
			return x, nil
		case json.Number:
			return x.Float64()
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDatatype, datatype)
	}
	return nil, fmt.Errorf("%w: %T with datatype %q", ErrUnsupportedValue, v, datatype)
}

// Package pyobj decodes the self-describing object-serialization
// stream used by RPA archive indexes (CPython pickle) into generic Go
// values.
//
// The package is a narrow boundary: callers receive nested mappings,
// sequences, byte strings and integers and stay agnostic to the exact
// opcode set, which is owned by the underlying decoder.
package pyobj

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/nlpodyssey/gopickle/pickle"
	"github.com/nlpodyssey/gopickle/types"
)

// ErrMalformed is returned when the stream is truncated, uses unknown
// opcodes, or a value does not have the requested shape.
var ErrMalformed = errors.New("pyobj: malformed object stream")

// Decode parses a serialized object stream into a nested value.
//
// Mappings decode to ordered key/value pairs (see Mapping), sequences
// to slices (see Sequence), byte strings to string or []byte, and
// integers to int or *big.Int depending on magnitude.
func Decode(data []byte) (any, error) {
	u := pickle.NewUnpickler(bytes.NewReader(data))
	v, err := u.Load()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return v, nil
}

// KV is a single mapping entry. Mappings preserve insertion order and
// may contain duplicate keys; callers decide how duplicates win.
type KV struct {
	Key   any
	Value any
}

// Mapping interprets v as a mapping and returns its entries in
// insertion order.
func Mapping(v any) ([]KV, error) {
	d, ok := v.(*types.Dict)
	if !ok {
		return nil, fmt.Errorf("%w: expected mapping, got %T", ErrMalformed, v)
	}
	kvs := make([]KV, 0, len(*d))
	for _, e := range *d {
		kvs = append(kvs, KV{Key: e.Key, Value: e.Value})
	}
	return kvs, nil
}

// Sequence interprets v as a list or tuple and returns its items.
func Sequence(v any) ([]any, error) {
	switch s := v.(type) {
	case *types.List:
		return []any(*s), nil
	case *types.Tuple:
		return []any(*s), nil
	case []any:
		return s, nil
	default:
		return nil, fmt.Errorf("%w: expected sequence, got %T", ErrMalformed, v)
	}
}

// String interprets v as a text string.
//
// Byte strings are accepted too: indexes written by Python 2 store
// paths as raw byte strings.
func String(v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	default:
		return "", fmt.Errorf("%w: expected string, got %T", ErrMalformed, v)
	}
}

// Bytes interprets v as a byte string.
func Bytes(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		return nil, fmt.Errorf("%w: expected bytes, got %T", ErrMalformed, v)
	}
}

// Uint64 interprets v as a non-negative integer.
//
// Small integers decode as int; larger ones arrive as arbitrary
// precision values and must fit in a uint64.
func Uint64(v any) (uint64, error) {
	switch n := v.(type) {
	case int:
		if n < 0 {
			return 0, fmt.Errorf("%w: negative integer %d", ErrMalformed, n)
		}
		return uint64(n), nil
	case int64:
		if n < 0 {
			return 0, fmt.Errorf("%w: negative integer %d", ErrMalformed, n)
		}
		return uint64(n), nil
	case uint64:
		return n, nil
	case *big.Int:
		if n.Sign() < 0 || !n.IsUint64() {
			return 0, fmt.Errorf("%w: integer %s out of range", ErrMalformed, n)
		}
		return n.Uint64(), nil
	default:
		return 0, fmt.Errorf("%w: expected integer, got %T", ErrMalformed, v)
	}
}

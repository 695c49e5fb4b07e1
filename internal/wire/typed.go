package wire

import (
	"encoding/base64"
	"strconv"

	"github.com/cockroachdb/errors"
)

// Typed bodies survive encoding with their Go types intact. Strings and bools
// travel as themselves; every other value travels as a single-key struct
// naming its kind. Integers are carried as decimal strings so that no
// precision is lost to the float encoding of protobuf numbers.
const (
	kindInt     = "int"
	kindInt64   = "int64"
	kindInt32   = "int32"
	kindUint    = "uint"
	kindUint64  = "uint64"
	kindUint32  = "uint32"
	kindFloat64 = "float64"
	kindFloat32 = "float32"
	kindBytes   = "bytes"
	kindBody    = "body"
	kindMap     = "map"
	kindList    = "list"
	kindStrings = "strings"
	kindBodies  = "bodies"
)

// Typed rewrites b into a body that Untyped restores exactly. Values of
// unsupported types are left as they are and fail at Encode.
func Typed(b Body) Body {
	if b == nil {
		return nil
	}
	out := make(Body, len(b))
	for k, v := range b {
		out[k] = typed(v)
	}
	return out
}

func typed(v interface{}) interface{} {
	tag := func(kind string, v interface{}) map[string]interface{} {
		return map[string]interface{}{kind: v}
	}
	switch t := v.(type) {
	case string, bool, nil:
		return t
	case int:
		return tag(kindInt, strconv.FormatInt(int64(t), 10))
	case int64:
		return tag(kindInt64, strconv.FormatInt(t, 10))
	case int32:
		return tag(kindInt32, strconv.FormatInt(int64(t), 10))
	case uint:
		return tag(kindUint, strconv.FormatUint(uint64(t), 10))
	case uint64:
		return tag(kindUint64, strconv.FormatUint(t, 10))
	case uint32:
		return tag(kindUint32, strconv.FormatUint(uint64(t), 10))
	case float64:
		return tag(kindFloat64, t)
	case float32:
		return tag(kindFloat32, float64(t))
	case []byte:
		return tag(kindBytes, base64.StdEncoding.EncodeToString(t))
	case Body:
		return tag(kindBody, map[string]interface{}(Typed(t)))
	case map[string]interface{}:
		return tag(kindMap, map[string]interface{}(Typed(t)))
	case []string:
		out := make([]interface{}, len(t))
		for i, s := range t {
			out[i] = s
		}
		return tag(kindStrings, out)
	case []Body:
		out := make([]interface{}, len(t))
		for i, b := range t {
			out[i] = map[string]interface{}(Typed(b))
		}
		return tag(kindBodies, out)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = typed(e)
		}
		return tag(kindList, out)
	}
	return v
}

// Untyped restores a body written by Typed.
func Untyped(b Body) (Body, error) {
	if b == nil {
		return nil, nil
	}
	out := make(Body, len(b))
	for k, v := range b {
		u, err := untyped(v)
		if err != nil {
			return nil, errors.Wrapf(err, "field %q", k)
		}
		out[k] = u
	}
	return out, nil
}

func untyped(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case string, bool, nil:
		return t, nil
	case map[string]interface{}:
		if len(t) != 1 {
			return nil, errors.Wrapf(ErrMalformed, "tagged value with %d keys", len(t))
		}
		for kind, e := range t {
			return untag(kind, e)
		}
	}
	return nil, errors.Wrapf(ErrMalformed, "untagged value of type %T", v)
}

func untag(kind string, v interface{}) (interface{}, error) {
	s, _ := v.(string)
	switch kind {
	case kindInt:
		n, err := strconv.ParseInt(s, 10, 64)
		return int(n), wrapParse(err, kind)
	case kindInt64:
		n, err := strconv.ParseInt(s, 10, 64)
		return n, wrapParse(err, kind)
	case kindInt32:
		n, err := strconv.ParseInt(s, 10, 32)
		return int32(n), wrapParse(err, kind)
	case kindUint:
		n, err := strconv.ParseUint(s, 10, 64)
		return uint(n), wrapParse(err, kind)
	case kindUint64:
		n, err := strconv.ParseUint(s, 10, 64)
		return n, wrapParse(err, kind)
	case kindUint32:
		n, err := strconv.ParseUint(s, 10, 32)
		return uint32(n), wrapParse(err, kind)
	case kindFloat64:
		f, ok := v.(float64)
		return f, wrapKind(ok, kind)
	case kindFloat32:
		f, ok := v.(float64)
		return float32(f), wrapKind(ok, kind)
	case kindBytes:
		b, err := base64.StdEncoding.DecodeString(s)
		return b, wrapParse(err, kind)
	case kindBody, kindMap:
		m, ok := v.(map[string]interface{})
		if !ok {
			return nil, wrapKind(false, kind)
		}
		b, err := Untyped(m)
		if err != nil || kind == kindBody {
			return b, err
		}
		return map[string]interface{}(b), nil
	case kindStrings:
		l, ok := v.([]interface{})
		if !ok {
			return nil, wrapKind(false, kind)
		}
		out := make([]string, len(l))
		for i, e := range l {
			if out[i], ok = e.(string); !ok {
				return nil, wrapKind(false, kind)
			}
		}
		return out, nil
	case kindBodies:
		l, ok := v.([]interface{})
		if !ok {
			return nil, wrapKind(false, kind)
		}
		out := make([]Body, len(l))
		for i, e := range l {
			m, ok := e.(map[string]interface{})
			if !ok {
				return nil, wrapKind(false, kind)
			}
			b, err := Untyped(m)
			if err != nil {
				return nil, err
			}
			out[i] = b
		}
		return out, nil
	case kindList:
		l, ok := v.([]interface{})
		if !ok {
			return nil, wrapKind(false, kind)
		}
		out := make([]interface{}, len(l))
		for i, e := range l {
			u, err := untyped(e)
			if err != nil {
				return nil, err
			}
			out[i] = u
		}
		return out, nil
	}
	return nil, errors.Wrapf(ErrMalformed, "unknown kind %q", kind)
}

func wrapParse(err error, kind string) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(ErrMalformed, "bad %s: %v", kind, err)
}

func wrapKind(ok bool, kind string) error {
	if ok {
		return nil
	}
	return errors.Wrapf(ErrMalformed, "bad %s", kind)
}

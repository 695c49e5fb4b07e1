package wire

// Body is the free-form key/value payload of a packet. Values must be
// representable as protobuf struct values: strings, bools, numbers, nested
// bodies and lists of those. Numbers decode as float64 unless the body went
// through Typed.
type Body map[string]interface{}

func (b Body) Has(key string) bool {
	_, ok := b[key]
	return ok
}

func (b Body) String(key string) string {
	s, _ := b[key].(string)
	return s
}

func (b Body) Bool(key string) bool {
	v, _ := b[key].(bool)
	return v
}

func (b Body) Int(key string) int {
	switch v := b[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case int32:
		return int(v)
	case uint32:
		return int(v)
	}
	return 0
}

func (b Body) Strings(key string) []string {
	switch v := b[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func (b Body) Body(key string) Body {
	switch v := b[key].(type) {
	case Body:
		return v
	case map[string]interface{}:
		return v
	}
	return nil
}

func (b Body) Bodies(key string) []Body {
	switch v := b[key].(type) {
	case []Body:
		return v
	case []interface{}:
		out := make([]Body, 0, len(v))
		for _, e := range v {
			switch m := e.(type) {
			case Body:
				out = append(out, m)
			case map[string]interface{}:
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

// normalize rewrites named and typed containers into the plain shapes
// structpb accepts.
func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case Body:
		return normalize(map[string]interface{}(t))
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = normalize(e)
		}
		return out
	case []Body:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	case []string:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = e
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	}
	return v
}

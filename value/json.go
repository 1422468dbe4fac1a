package value

// Interface projects v onto a plain Go value suitable for json.Marshal or
// for feeding a github.com/santhosh-tekuri/jsonschema/v6 validator. Bytes
// become a []byte (base64 under json.Marshal, matching encoding/json's
// convention); integers and floats become float64/int64 as appropriate.
func (v Value) Interface() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		b, _ := v.Bool()
		return b
	case KindI8, KindI16, KindI32, KindI64:
		return v.i
	case KindF32, KindF64:
		f, _ := v.Float64()
		return f
	case KindString:
		return v.s
	case KindBytes:
		return v.b
	case KindArray:
		out := make([]any, len(v.arr))
		for i, e := range v.arr {
			out[i] = e.Interface()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, e := range v.m {
			out[k] = e.Interface()
		}
		return out
	default:
		return nil
	}
}

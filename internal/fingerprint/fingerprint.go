// Package fingerprint computes short, stable digests of decoded payloads so
// that unchanged data can be recognised between poll cycles.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
)

// Length is the number of hex characters kept from the digest.
const Length = 16

// Compute returns the fingerprint of payload. Map keys are serialized in
// sorted order, so insertion order has no effect; values that have no JSON
// form are replaced by their string representation.
func Compute(payload any) string {
	data, err := json.Marshal(normalize(payload))
	if err != nil {
		// normalize only produces encodable values
		data = []byte(fmt.Sprint(payload))
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:Length]
}

func normalize(v any) any {
	switch t := v.(type) {
	case nil, string, bool, json.Number,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return t
	case float64:
		return finite(t)
	case float32:
		return finite(float64(t))
	case time.Time:
		return t.String()
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	}

	return normalizeValue(reflect.ValueOf(v))
}

func normalizeValue(rv reflect.Value) any {
	switch rv.Kind() {
	case reflect.Map:
		if rv.IsNil() {
			return nil
		}
		out := make(map[string]any, rv.Len())
		it := rv.MapRange()
		for it.Next() {
			out[fmt.Sprint(it.Key().Interface())] = normalize(it.Value().Interface())
		}
		return out
	case reflect.Slice:
		if rv.IsNil() {
			return nil
		}
		fallthrough
	case reflect.Array:
		out := make([]any, rv.Len())
		for i := range rv.Len() {
			out[i] = normalize(rv.Index(i).Interface())
		}
		return out
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return normalize(rv.Elem().Interface())
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint()
	case reflect.Float32, reflect.Float64:
		return finite(rv.Float())
	}

	return fmt.Sprint(rv.Interface())
}

// finite keeps numbers JSON can carry and stringifies NaN and infinities.
func finite(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return f
}

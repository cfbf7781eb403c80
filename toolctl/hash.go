package toolctl

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// StableSerialize renders v as a canonical string: object keys sorted
// lexicographically, arrays preserved in order, primitives via their literal
// JSON form. Reference cycles are detected by identity (not value) and
// substituted with the literal marker "[Circular]" so hashing never panics
// or loops forever on self-referential structures.
func StableSerialize(v any) string {
	var sb strings.Builder
	seen := map[uintptr]bool{}
	stableWrite(&sb, reflect.ValueOf(v), seen)
	return sb.String()
}

func stableWrite(sb *strings.Builder, rv reflect.Value, seen map[uintptr]bool) {
	if !rv.IsValid() {
		sb.WriteString("null")
		return
	}

	switch rv.Kind() {
	case reflect.Interface, reflect.Ptr:
		if rv.IsNil() {
			sb.WriteString("null")
			return
		}
		if rv.Kind() == reflect.Ptr {
			ptr := rv.Pointer()
			if seen[ptr] {
				sb.WriteString(`"[Circular]"`)
				return
			}
			seen[ptr] = true
			defer delete(seen, ptr)
		}
		stableWrite(sb, rv.Elem(), seen)
		return

	case reflect.Map:
		if rv.IsNil() {
			sb.WriteString("null")
			return
		}
		ptr := rv.Pointer()
		if seen[ptr] {
			sb.WriteString(`"[Circular]"`)
			return
		}
		seen[ptr] = true
		defer delete(seen, ptr)

		keys := rv.MapKeys()
		strKeys := make([]string, len(keys))
		for i, k := range keys {
			strKeys[i] = fmt.Sprintf("%v", k.Interface())
		}
		idx := make([]int, len(keys))
		for i := range idx {
			idx[i] = i
		}
		sort.Slice(idx, func(a, b int) bool { return strKeys[idx[a]] < strKeys[idx[b]] })

		sb.WriteByte('{')
		for i, j := range idx {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeJSONString(sb, strKeys[j])
			sb.WriteByte(':')
			stableWrite(sb, rv.MapIndex(keys[j]), seen)
		}
		sb.WriteByte('}')
		return

	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			sb.WriteString("null")
			return
		}
		if rv.Kind() == reflect.Slice {
			ptr := rv.Pointer()
			if seen[ptr] {
				sb.WriteString(`"[Circular]"`)
				return
			}
			seen[ptr] = true
			defer delete(seen, ptr)
		}
		sb.WriteByte('[')
		for i := 0; i < rv.Len(); i++ {
			if i > 0 {
				sb.WriteByte(',')
			}
			stableWrite(sb, rv.Index(i), seen)
		}
		sb.WriteByte(']')
		return

	case reflect.Struct:
		m := map[string]any{}
		t := rv.Type()
		for i := 0; i < rv.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			name := f.Name
			if tag := f.Tag.Get("json"); tag != "" {
				parts := strings.Split(tag, ",")
				if parts[0] != "" {
					name = parts[0]
				}
			}
			m[name] = rv.Field(i).Interface()
		}
		stableWrite(sb, reflect.ValueOf(m), seen)
		return

	case reflect.String:
		writeJSONString(sb, rv.String())
		return

	case reflect.Bool:
		if rv.Bool() {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
		return

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		fmt.Fprintf(sb, "%d", rv.Int())
		return

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		fmt.Fprintf(sb, "%d", rv.Uint())
		return

	case reflect.Float32, reflect.Float64:
		b, err := json.Marshal(rv.Float())
		if err != nil {
			sb.WriteString("null")
			return
		}
		sb.Write(b)
		return

	default:
		writeJSONString(sb, fmt.Sprintf("%v", rv.Interface()))
	}
}

func writeJSONString(sb *strings.Builder, s string) {
	b, err := json.Marshal(s)
	if err != nil {
		sb.WriteString(`""`)
		return
	}
	sb.Write(b)
}

// HashString returns the lowercase hex SHA-256 digest of s.
func HashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Hash returns the SHA-256 digest of v's stable serialization.
func Hash(v any) string {
	return HashString(StableSerialize(v))
}

// Fingerprint identifies a call for loop-breaker purposes: toolName
// concatenated with the hash of its args (nil args hash as "null").
func Fingerprint(toolName string, args any) string {
	return toolName + ":" + Hash(args)
}

// outcomeSnapshot is the canonical shape hashed to detect no-progress
// streaks in the loop breaker.
type outcomeSnapshot struct {
	OK         bool   `json:"ok"`
	StatusCode int    `json:"statusCode"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Data       any    `json:"data"`
}

// OutcomeHash hashes the canonical outcome shape used by the loop breaker.
func OutcomeHash(ok bool, statusCode int, code, message string, data any) string {
	return Hash(outcomeSnapshot{OK: ok, StatusCode: statusCode, Code: code, Message: message, Data: data})
}

// Package sanitize prepares arbitrary values for logging. It carries a
// visited set and hard caps so a cyclic or enormous payload can never
// wedge a log statement.
package sanitize

import (
	"fmt"
	"reflect"
)

const (
	maxDepth = 10
	maxItems = 100
)

// Value returns a log-safe copy of v: cycles become "[cycle]", depth
// beyond 10 becomes "[truncated]", and containers are capped at 100
// items. The input is never mutated and its String methods are never
// invoked.
func Value(v interface{}) interface{} {
	return walk(reflect.ValueOf(v), make(map[uintptr]bool), 0)
}

func walk(v reflect.Value, visited map[uintptr]bool, depth int) interface{} {
	if !v.IsValid() {
		return nil
	}
	if depth > maxDepth {
		return "[truncated]"
	}

	switch v.Kind() {
	case reflect.Ptr, reflect.Interface:
		if v.IsNil() {
			return nil
		}
		if v.Kind() == reflect.Ptr {
			ptr := v.Pointer()
			if visited[ptr] {
				return "[cycle]"
			}
			visited[ptr] = true
			defer delete(visited, ptr)
		}
		return walk(v.Elem(), visited, depth+1)

	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		ptr := v.Pointer()
		if visited[ptr] {
			return "[cycle]"
		}
		visited[ptr] = true
		defer delete(visited, ptr)

		out := make(map[string]interface{})
		count := 0
		for _, key := range v.MapKeys() {
			if count >= maxItems {
				out["..."] = fmt.Sprintf("[%d more]", v.Len()-maxItems)
				break
			}
			out[fmt.Sprintf("%v", key.Interface())] = walk(v.MapIndex(key), visited, depth+1)
			count++
		}
		return out

	case reflect.Slice:
		if v.IsNil() {
			return nil
		}
		ptr := v.Pointer()
		if visited[ptr] {
			return "[cycle]"
		}
		visited[ptr] = true
		defer delete(visited, ptr)
		return walkList(v, visited, depth)

	case reflect.Array:
		return walkList(v, visited, depth)

	case reflect.Struct:
		out := make(map[string]interface{})
		t := v.Type()
		for i := 0; i < t.NumField() && i < maxItems; i++ {
			f := t.Field(i)
			if f.PkgPath != "" { // unexported
				continue
			}
			out[f.Name] = walk(v.Field(i), visited, depth+1)
		}
		return out

	case reflect.String:
		s := v.String()
		if len(s) > 512 {
			return s[:512] + "...[truncated]"
		}
		return s

	case reflect.Bool:
		return v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint()
	case reflect.Float32, reflect.Float64:
		return v.Float()

	case reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return fmt.Sprintf("[%s]", v.Kind())
	}

	return fmt.Sprintf("[%s]", v.Kind())
}

func walkList(v reflect.Value, visited map[uintptr]bool, depth int) interface{} {
	n := v.Len()
	capped := n
	if capped > maxItems {
		capped = maxItems
	}
	out := make([]interface{}, 0, capped)
	for i := 0; i < capped; i++ {
		out = append(out, walk(v.Index(i), visited, depth+1))
	}
	if n > maxItems {
		out = append(out, fmt.Sprintf("[%d more]", n-maxItems))
	}
	return out
}

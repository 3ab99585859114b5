package io

import (
	"fmt"
	"reflect"
)

// Sizer is implemented by types that know their own encoded size, letting
// GetVarSize avoid a throwaway encode pass just to measure a length.
type Sizer interface {
	Size() int
}

// GetVarIntSize returns the number of bytes WriteVarUint would use to
// encode value.
func GetVarIntSize(value int64) int {
	return varIntSize(uint64(value))
}

func varIntSize(v uint64) int {
	switch {
	case v < 0xfd:
		return 1
	case v <= 0xffff:
		return 3
	case v <= 0xffffffff:
		return 5
	default:
		return 9
	}
}

// GetVarSize returns the number of bytes the wire codec's variable-length
// encoding would use for value: a signed or unsigned integer, a string, a
// byte slice, a fixed-size array, or a slice/array of Sizer elements. It
// panics for any other kind, the same way WriteArray panics on an
// unsupported element type.
func GetVarSize(value interface{}) int {
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return varIntSize(uint64(v.Int()))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return varIntSize(v.Uint())
	case reflect.String:
		n := len(v.String())
		return varIntSize(uint64(n)) + n
	case reflect.Slice:
		if b, ok := value.([]byte); ok {
			return varIntSize(uint64(len(b))) + len(b)
		}
		return varSizeOfArrayOrSlice(v)
	case reflect.Array:
		return varSizeOfArrayOrSlice(v)
	default:
		panic(fmt.Sprintf("io: GetVarSize: unsupported type %T", value))
	}
}

// varSizeOfArrayOrSlice handles the two array/slice shapes GetVarSize
// supports: a run of Sizer elements (summed by their own Size()) or a run
// of fixed-width scalars (summed by reflect.Type.Size()).
func varSizeOfArrayOrSlice(v reflect.Value) int {
	n := v.Len()
	if n > 0 {
		if _, ok := v.Index(0).Interface().(Sizer); ok {
			total := 0
			for i := 0; i < n; i++ {
				total += v.Index(i).Interface().(Sizer).Size()
			}
			return varIntSize(uint64(n)) + total
		}
	}
	elemSize := int(v.Type().Elem().Size())
	return varIntSize(uint64(n)) + n*elemSize
}

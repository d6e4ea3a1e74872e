package shm

import (
	"fmt"
	"reflect"

	cmap "github.com/orcaman/concurrent-map/v2"
)

type castVerdict struct {
	err error
}

var castCache = cmap.NewStringer[reflect.Type, castVerdict]()

// Castable reports whether values of T may be placed in a mapping and
// interpreted by another process. A castable type has a fixed size that does
// not depend on the architecture and contains no pointers of any kind, so
// bool, sized integers, floats, complex numbers, and arrays or structs of
// those qualify. Types from sync/atomic qualify since they are structs of
// sized integers. Zero-sized types are rejected.
//
// The verdict is computed once per type.
func Castable[T any]() error {
	return castable(reflect.TypeOf((*T)(nil)).Elem())
}

func castable(t reflect.Type) error {
	if v, ok := castCache.Get(t); ok {
		return v.err
	}
	err := checkCastable(t, "")
	if err == nil && t.Size() == 0 {
		err = fmt.Errorf("%w: %v is zero sized", ErrNotCastable, t)
	}
	castCache.Set(t, castVerdict{err: err})
	return err
}

func checkCastable(t reflect.Type, path string) error {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64,
		reflect.Complex64, reflect.Complex128:
		return nil
	case reflect.Array:
		return checkCastable(t.Elem(), path+"[]")
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if err := checkCastable(f.Type, path+"."+f.Name); err != nil {
				return err
			}
		}
		return nil
	case reflect.Int, reflect.Uint, reflect.Uintptr:
		return fmt.Errorf("%w: %v%s has an architecture dependent size", ErrNotCastable, t, path)
	default:
		return fmt.Errorf("%w: %v%s holds a %v", ErrNotCastable, t, path, t.Kind())
	}
}

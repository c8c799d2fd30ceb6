// Package registry is the process-wide table of resources exposed to a foreign runtime.
//
// Every resource handed across the boundary lives in exactly one slot and is referred to by
// an opaque Handle. Handles come from a monotonic counter and are never reused, so a stale
// handle fails lookup instead of aliasing a newer resource. Lookups go through a lock-free
// skip list; a thread blocked on one resource never stalls lookups of another.
package registry

import (
	"connbridge/pkg/clock"
	"connbridge/pkg/dberrors"
	"fmt"

	"github.com/zhangyunhao116/skipmap"
)

// Handle is an opaque reference to a registry slot. The zero Handle is never allocated.
type Handle uint64

// Nil is the handle value that never refers to a resource.
const Nil Handle = 0

// Kind tags the variant held by a slot.
type Kind uint8

const (
	KindStorageIterator Kind = iota + 1
	KindRow
	KindChunkIterator
	KindCdcChannel
	KindSinkChannel
)

func (k Kind) String() string {
	switch k {
	case KindStorageIterator:
		return "storage iterator"
	case KindRow:
		return "row"
	case KindChunkIterator:
		return "chunk iterator"
	case KindCdcChannel:
		return "cdc channel"
	case KindSinkChannel:
		return "sink channel"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Resource is anything that can be held by the registry.
type Resource interface {
	Kind() Kind
}

type slotMap = skipmap.FuncMap[Handle, Resource]

type Registry struct {
	seq   *clock.AtomicClock
	slots *slotMap
}

func New() *Registry {
	return &Registry{
		seq: clock.NewAtomic(0),
		slots: skipmap.NewFunc[Handle, Resource](func(a, b Handle) bool {
			return a < b
		}),
	}
}

// Allocate stores r in a fresh slot and returns its handle.
func (r *Registry) Allocate(res Resource) Handle {
	h := Handle(r.seq.Next())
	r.slots.Store(h, res)
	return h
}

// Get returns the resource held under h.
func (r *Registry) Get(h Handle) (Resource, error) {
	res, ok := r.slots.Load(h)
	if !ok {
		return nil, dberrors.InvalidHandle("registry.get", uint64(h))
	}
	return res, nil
}

// Release removes h from the table and returns the resource it held so the caller can free
// it. Releasing an unknown or already released handle is an InvalidHandle error.
func (r *Registry) Release(h Handle) (Resource, error) {
	res, ok := r.slots.LoadAndDelete(h)
	if !ok {
		return nil, dberrors.InvalidHandle("registry.release", uint64(h))
	}
	return res, nil
}

// Len returns the number of live handles.
func (r *Registry) Len() int {
	return r.slots.Len()
}

// CountByKind returns the number of live handles per resource kind.
func (r *Registry) CountByKind() map[Kind]int {
	out := make(map[Kind]int)
	r.slots.Range(func(_ Handle, res Resource) bool {
		out[res.Kind()]++
		return true
	})
	return out
}

// Lookup returns the resource under h if it is a T. A live handle of a different kind is
// reported as an invalid handle for op.
func Lookup[T Resource](r *Registry, op string, h Handle) (T, error) {
	var zero T
	res, ok := r.slots.Load(h)
	if !ok {
		return zero, dberrors.InvalidHandle(op, uint64(h))
	}
	typed, ok := res.(T)
	if !ok {
		err := dberrors.InvalidHandle(op, uint64(h))
		err.Err = fmt.Errorf("handle refers to a %s", res.Kind())
		return zero, err
	}
	return typed, nil
}

// Take removes h from the table if it holds a T. A handle of a different kind is left in
// place and reported as invalid.
func Take[T Resource](r *Registry, op string, h Handle) (T, error) {
	var zero T
	if _, err := Lookup[T](r, op, h); err != nil {
		return zero, err
	}
	res, ok := r.slots.LoadAndDelete(h)
	if !ok {
		// lost a race with another release of the same handle
		return zero, dberrors.InvalidHandle(op, uint64(h))
	}
	return res.(T), nil
}

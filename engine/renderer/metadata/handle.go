package metadata

import "github.com/cockroachdb/errors"

// Handle is a strongly typed (index, generation) reference into an Arena.
// Resources are always passed around as handles rather than pointers so a
// stale reference is detected structurally instead of trusted. The zero
// value is invalid.
type Handle[T any] struct {
	index      uint32
	generation uint32
}

// IsValid reports whether the handle was ever issued by an arena.
// A valid handle may still be stale; Arena.Get is the authority.
func (h Handle[T]) IsValid() bool {
	return h.generation != 0
}

// Index returns the arena slot index. Only meaningful for valid handles.
func (h Handle[T]) Index() uint32 {
	return h.index
}

// Generation returns the issue generation of the handle.
func (h Handle[T]) Generation() uint32 {
	return h.generation
}

type arenaSlot[T any] struct {
	value      T
	generation uint32
	live       bool
}

// Arena is a generational slot container. Removing an entry bumps the
// slot's generation, which invalidates every handle issued before the
// removal. Not synchronized; owners guard access with their own lock.
type Arena[T any] struct {
	slots []arenaSlot[T]
	free  []uint32
	count int
}

func NewArena[T any]() *Arena[T] {
	return &Arena[T]{}
}

// Insert stores the value and returns a handle for it.
func (a *Arena[T]) Insert(value T) Handle[T] {
	var index uint32
	if n := len(a.free); n > 0 {
		index = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.slots = append(a.slots, arenaSlot[T]{})
		index = uint32(len(a.slots) - 1)
	}

	slot := &a.slots[index]
	slot.value = value
	slot.generation++
	slot.live = true
	a.count++

	return Handle[T]{index: index, generation: slot.generation}
}

// Get returns a pointer to the stored value, or ErrStaleHandle when the
// handle refers to a removed or never-issued entry.
func (a *Arena[T]) Get(h Handle[T]) (*T, error) {
	if !h.IsValid() || int(h.index) >= len(a.slots) {
		return nil, errors.Wrapf(ErrStaleHandle, "index %d", h.index)
	}
	slot := &a.slots[h.index]
	if !slot.live || slot.generation != h.generation {
		return nil, errors.Wrapf(ErrStaleHandle, "index %d generation %d (current %d)", h.index, h.generation, slot.generation)
	}
	return &slot.value, nil
}

// Remove invalidates the handle and hands the value back. All copies of
// the handle become stale at once.
func (a *Arena[T]) Remove(h Handle[T]) (T, error) {
	var zero T
	value, err := a.Get(h)
	if err != nil {
		return zero, err
	}

	slot := &a.slots[h.index]
	out := *value
	slot.value = zero
	slot.live = false
	a.free = append(a.free, h.index)
	a.count--
	return out, nil
}

// Len returns the number of live entries.
func (a *Arena[T]) Len() int {
	return a.count
}

// Each visits every live entry. The visitor may call Remove on the handle
// it was given; removal of other handles during iteration is not allowed.
func (a *Arena[T]) Each(fn func(Handle[T], *T)) {
	for i := range a.slots {
		slot := &a.slots[i]
		if slot.live {
			fn(Handle[T]{index: uint32(i), generation: slot.generation}, &slot.value)
		}
	}
}

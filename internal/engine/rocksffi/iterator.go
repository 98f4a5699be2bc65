//go:build darwin || linux || freebsd

package rocksffi

// iterator.go adapts the native cursor. Key and Value return views into
// iterator-owned memory that stay valid until the cursor moves, which is
// exactly the contract's lifetime; callers above the contract copy.

import (
	"unsafe"

	"github.com/aalhour/rockbridge/internal/engine"
)

type iterator struct {
	L  *lib
	it uintptr
	ro uintptr // owns the bound buffers the native cursor points into
}

func (i *iterator) SeekToFirst() { i.L.iterSeekToFirst(i.it) }
func (i *iterator) SeekToLast()  { i.L.iterSeekToLast(i.it) }

func (i *iterator) Seek(key []byte) {
	i.L.iterSeek(i.it, key, uintptr(len(key)))
}

func (i *iterator) SeekForPrev(key []byte) {
	i.L.iterSeekForPrev(i.it, key, uintptr(len(key)))
}

func (i *iterator) Next() { i.L.iterNext(i.it) }
func (i *iterator) Prev() { i.L.iterPrev(i.it) }

func (i *iterator) Valid() bool {
	return i.it != 0 && i.L.iterValid(i.it)
}

func (i *iterator) Key() []byte {
	if !i.Valid() {
		return nil
	}
	var n uintptr
	p := i.L.iterKey(i.it, &n)
	return view(p, n)
}

func (i *iterator) Value() []byte {
	if !i.Valid() {
		return nil
	}
	var n uintptr
	p := i.L.iterValue(i.it, &n)
	return view(p, n)
}

func (i *iterator) Status() error {
	if i.it == 0 {
		return nil
	}
	var errp uintptr
	i.L.iterGetError(i.it, &errp)
	if st := i.L.errStatus(errp); st != nil {
		return st
	}
	return nil
}

func (i *iterator) Close() error {
	if i.it != 0 {
		i.L.iterDestroy(i.it)
		i.it = 0
	}
	if i.ro != 0 {
		i.L.readoptionsDestroy(i.ro)
		i.ro = 0
	}
	return nil
}

// view wraps native memory without copying.
func view(p uintptr, n uintptr) []byte {
	if p == 0 || n == 0 {
		return []byte{}
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(p)), n)
}

var _ engine.Iterator = (*iterator)(nil)

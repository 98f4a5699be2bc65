package pebbleng

// txn_iterator.go merges the transaction overlay with the base store into
// one cursor. The overlay is fixed when the cursor is created; on equal
// keys it shadows the base, tombstones hide keys entirely, and merge
// entries resolve against the base value underneath.

import (
	"bytes"
	"sort"

	"github.com/aalhour/rockbridge/internal/engine"
)

const (
	srcBase = 1 << iota
	srcOver
)

type overlayItem struct {
	key []byte
	e   writeEntry
}

type txnIterator struct {
	t    *txn
	base engine.Iterator
	over []overlayItem
	oi   int
	dir  int // +1 forward, -1 backward, 0 unpositioned

	valid  bool
	err    error
	curSrc int
	key    []byte
	val    []byte
}

func newTxnIterator(t *txn, r pebbleReader, id uint32, ro *engine.ReadOptions) (engine.Iterator, error) {
	base, err := newCFIterator(r, id, ro)
	if err != nil {
		return nil, err
	}

	var lower, upper []byte
	if ro != nil {
		lower, upper = ro.LowerBound, ro.UpperBound
	}
	prefix := cfLower(id)
	var over []overlayItem
	for k, e := range t.writes {
		stored := []byte(k)
		if len(stored) < prefixLen || !bytes.Equal(stored[:prefixLen], prefix) {
			continue
		}
		uk := stored[prefixLen:]
		if len(lower) > 0 && bytes.Compare(uk, lower) < 0 {
			continue
		}
		if len(upper) > 0 && bytes.Compare(uk, upper) >= 0 {
			continue
		}
		c := *e
		c.ops = append([][]byte(nil), e.ops...)
		over = append(over, overlayItem{key: uk, e: c})
	}
	sort.Slice(over, func(i, j int) bool { return bytes.Compare(over[i].key, over[j].key) < 0 })

	return &txnIterator{t: t, base: base, over: over}, nil
}

// overFrom returns the first overlay index at or after key.
func (i *txnIterator) overFrom(key []byte) int {
	return sort.Search(len(i.over), func(j int) bool {
		return bytes.Compare(i.over[j].key, key) >= 0
	})
}

func (i *txnIterator) fail(err error) {
	i.err = err
	i.valid = false
}

func (i *txnIterator) SeekToFirst() {
	i.base.SeekToFirst()
	i.oi = 0
	i.dir = 1
	i.settleForward()
}

func (i *txnIterator) SeekToLast() {
	i.base.SeekToLast()
	i.oi = len(i.over) - 1
	i.dir = -1
	i.settleBackward()
}

func (i *txnIterator) Seek(key []byte) {
	i.base.Seek(key)
	i.oi = i.overFrom(key)
	i.dir = 1
	i.settleForward()
}

func (i *txnIterator) SeekForPrev(key []byte) {
	i.base.SeekForPrev(key)
	i.oi = sort.Search(len(i.over), func(j int) bool {
		return bytes.Compare(i.over[j].key, key) > 0
	}) - 1
	i.dir = -1
	i.settleBackward()
}

func (i *txnIterator) Next() {
	if !i.valid {
		return
	}
	if i.dir < 0 {
		// Resume forward strictly after the current key.
		succ := append(append([]byte(nil), i.key...), 0)
		i.base.Seek(succ)
		i.oi = i.overFrom(succ)
		i.dir = 1
		i.settleForward()
		return
	}
	if i.curSrc&srcBase != 0 {
		i.base.Next()
	}
	if i.curSrc&srcOver != 0 {
		i.oi++
	}
	i.settleForward()
}

func (i *txnIterator) Prev() {
	if !i.valid {
		return
	}
	if i.dir > 0 {
		// Resume backward strictly before the current key.
		i.base.SeekForPrev(i.key)
		if i.base.Valid() && bytes.Equal(i.base.Key(), i.key) {
			i.base.Prev()
		}
		i.oi = i.overFrom(i.key) - 1
		i.dir = -1
		i.settleBackward()
		return
	}
	if i.curSrc&srcBase != 0 {
		i.base.Prev()
	}
	if i.curSrc&srcOver != 0 {
		i.oi--
	}
	i.settleBackward()
}

func (i *txnIterator) settleForward() {
	for {
		bv := i.base.Valid()
		if !bv {
			if st := i.base.Status(); st != nil {
				i.fail(st)
				return
			}
		}
		ov := i.oi >= 0 && i.oi < len(i.over)
		if !bv && !ov {
			i.valid = false
			return
		}

		src := srcBase
		switch {
		case bv && ov:
			switch c := bytes.Compare(i.base.Key(), i.over[i.oi].key); {
			case c > 0:
				src = srcOver
			case c == 0:
				src = srcBase | srcOver
			}
		case ov:
			src = srcOver
		}

		if src == srcBase {
			i.emitBase()
			return
		}
		it := &i.over[i.oi]
		if it.e.deleted && len(it.e.ops) == 0 {
			if src&srcBase != 0 {
				i.base.Next()
			}
			i.oi++
			continue
		}
		i.emitOverlay(it, src)
		return
	}
}

func (i *txnIterator) settleBackward() {
	for {
		bv := i.base.Valid()
		if !bv {
			if st := i.base.Status(); st != nil {
				i.fail(st)
				return
			}
		}
		ov := i.oi >= 0 && i.oi < len(i.over)
		if !bv && !ov {
			i.valid = false
			return
		}

		src := srcBase
		switch {
		case bv && ov:
			switch c := bytes.Compare(i.base.Key(), i.over[i.oi].key); {
			case c < 0:
				src = srcOver
			case c == 0:
				src = srcBase | srcOver
			}
		case ov:
			src = srcOver
		}

		if src == srcBase {
			i.emitBase()
			return
		}
		it := &i.over[i.oi]
		if it.e.deleted && len(it.e.ops) == 0 {
			if src&srcBase != 0 {
				i.base.Prev()
			}
			i.oi--
			continue
		}
		i.emitOverlay(it, src)
		return
	}
}

func (i *txnIterator) emitBase() {
	i.key = append(i.key[:0], i.base.Key()...)
	i.val = append(i.val[:0], i.base.Value()...)
	i.curSrc = srcBase
	i.valid = true
}

func (i *txnIterator) emitOverlay(it *overlayItem, src int) {
	var val []byte
	if len(it.e.ops) == 0 {
		val = it.e.base
	} else {
		var existing []byte
		switch {
		case it.e.deleted:
		case it.e.hasBase:
			existing = it.e.base
		case src&srcBase != 0:
			existing = i.base.Value()
		}
		if i.t.s.mop == nil {
			i.fail(engine.Statusf(engine.CodeInvalidArgument, "merge_operator is not properly initialized."))
			return
		}
		merged, ok := i.t.s.mop.FullMerge(it.key, existing, it.e.ops)
		if !ok {
			i.fail(engine.Statusf(engine.CodeCorruption, "merge operands for key could not be combined"))
			return
		}
		val = merged
	}
	i.key = append(i.key[:0], it.key...)
	i.val = append(i.val[:0], val...)
	i.curSrc = src
	i.valid = true
}

func (i *txnIterator) Valid() bool { return i.valid }

func (i *txnIterator) Key() []byte { return i.key }

func (i *txnIterator) Value() []byte { return i.val }

func (i *txnIterator) Status() error {
	if i.err != nil {
		return i.err
	}
	return i.base.Status()
}

func (i *txnIterator) Close() error {
	i.valid = false
	return i.base.Close()
}

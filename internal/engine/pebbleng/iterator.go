package pebbleng

// iterator.go wraps a pebble iterator for one column family. The family
// prefix confines the cursor via iterator bounds and is stripped from every
// key handed upward.

import (
	"github.com/cockroachdb/pebble"

	"github.com/aalhour/rockbridge/internal/engine"
)

type cfIterator struct {
	it *pebble.Iterator
	id uint32
}

func newCFIterator(r pebbleReader, id uint32, ro *engine.ReadOptions) (engine.Iterator, error) {
	lower := cfLower(id)
	if ro != nil && len(ro.LowerBound) > 0 {
		lower = cfKey(id, ro.LowerBound)
	}
	upper := cfUpper(id)
	if ro != nil && len(ro.UpperBound) > 0 {
		upper = cfKey(id, ro.UpperBound)
	}
	it, err := r.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, classify(err)
	}
	return &cfIterator{it: it, id: id}, nil
}

func (i *cfIterator) SeekToFirst() { i.it.First() }
func (i *cfIterator) SeekToLast()  { i.it.Last() }

func (i *cfIterator) Seek(key []byte) { i.it.SeekGE(cfKey(i.id, key)) }

func (i *cfIterator) SeekForPrev(key []byte) {
	// Last key at or before the target: strictly before its successor.
	i.it.SeekLT(append(cfKey(i.id, key), 0))
}

func (i *cfIterator) Next() { i.it.Next() }
func (i *cfIterator) Prev() { i.it.Prev() }

func (i *cfIterator) Valid() bool { return i.it.Valid() }

func (i *cfIterator) Key() []byte { return userKey(i.it.Key()) }

func (i *cfIterator) Value() []byte { return i.it.Value() }

func (i *cfIterator) Status() error { return classify(i.it.Error()) }

func (i *cfIterator) Close() error {
	if i.it == nil {
		return nil
	}
	err := i.it.Close()
	i.it = nil
	return classify(err)
}

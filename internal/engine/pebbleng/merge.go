package pebbleng

// merge.go adapts an engine.MergeOperator to pebble's Merger contract.
// Pebble resolves merge entries during reads and compactions, handing the
// operands to a ValueMerger one at a time; the adapter collects them in
// oldest-first order and applies the operator in Finish. Keys arrive in
// stored form, so the family prefix is stripped before the operator sees
// them.

import (
	"io"

	"github.com/cockroachdb/pebble"

	"github.com/aalhour/rockbridge/internal/engine"
)

func newMerger(op engine.MergeOperator) *pebble.Merger {
	return &pebble.Merger{
		Name: op.Name(),
		Merge: func(key, value []byte) (pebble.ValueMerger, error) {
			m := &valueMerger{op: op, key: append([]byte(nil), userKey(key)...)}
			m.ops = append(m.ops, append([]byte(nil), value...))
			return m, nil
		},
	}
}

// valueMerger accumulates operands oldest first. When Finish reports that
// the base value is included, it is the oldest element.
type valueMerger struct {
	op  engine.MergeOperator
	key []byte
	ops [][]byte
}

func (m *valueMerger) MergeNewer(value []byte) error {
	v := append([]byte(nil), value...)
	// Adjacent operands may collapse; the operator declines pairs it
	// cannot combine without the base value.
	if n := len(m.ops); n > 0 {
		if combined, ok := m.op.PartialMerge(m.key, m.ops[n-1], v); ok {
			m.ops[n-1] = combined
			return nil
		}
	}
	m.ops = append(m.ops, v)
	return nil
}

func (m *valueMerger) MergeOlder(value []byte) error {
	// The incoming value may turn out to be the base rather than an
	// operand, so no partial merging here.
	v := append([]byte(nil), value...)
	m.ops = append([][]byte{v}, m.ops...)
	return nil
}

func (m *valueMerger) Finish(includesBase bool) ([]byte, io.Closer, error) {
	var existing []byte
	operands := m.ops
	if includesBase && len(operands) > 0 {
		existing = operands[0]
		operands = operands[1:]
	}
	result, ok := m.op.FullMerge(m.key, existing, operands)
	if !ok {
		return nil, nil, engine.Statusf(engine.CodeCorruption, "merge operands for key could not be combined")
	}
	return result, nil, nil
}

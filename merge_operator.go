package rockbridge

// merge_operator.go implements user-defined merge semantics.
//
// A MergeOperator resolves Merge operations: atomic read-modify-write
// without a read on the write path. The operator is configured at open time
// and passed through to the engine, which invokes it during reads,
// compaction and iteration. Providers that cannot host host-language
// operators (the native bridge) reject a configured operator at open with a
// NotSupported error; Merge calls themselves still pass through to whatever
// operator the native side was built with.
//
// Reference: RocksDB v10.7.5
//   - include/rocksdb/merge_operator.h
//   - utilities/merge_operators/uint64add.cc
//   - utilities/merge_operators/string_append/stringappend.cc

import "encoding/binary"

// MergeOperator is the interface for user-defined merge operations.
type MergeOperator interface {
	// Name identifies the operator. Engines persist it and refuse to
	// open a database with a mismatched operator.
	Name() string

	// FullMerge combines existingValue (nil when the key had none) with
	// the operands, oldest first. Returning ok=false marks the merge as
	// corrupted and fails the read.
	FullMerge(key []byte, existingValue []byte, operands [][]byte) (newValue []byte, ok bool)

	// PartialMerge combines two adjacent operands, older left. Returning
	// ok=false keeps both operands for a later FullMerge; that is always
	// a valid answer.
	PartialMerge(key []byte, leftOperand, rightOperand []byte) (newOperand []byte, ok bool)
}

// AssociativeMergeOperator is a simplified interface for operators whose
// operation is associative, like numeric addition or set union.
type AssociativeMergeOperator interface {
	// Name identifies the operator.
	Name() string

	// Merge combines an existing value (nil for the identity element)
	// with one operand.
	Merge(key []byte, existingValue, value []byte) ([]byte, bool)
}

// NewAssociativeMergeOperator adapts an AssociativeMergeOperator to the full
// MergeOperator interface.
func NewAssociativeMergeOperator(op AssociativeMergeOperator) MergeOperator {
	return &associativeAdapter{op: op}
}

type associativeAdapter struct {
	op AssociativeMergeOperator
}

func (a *associativeAdapter) Name() string {
	return a.op.Name()
}

func (a *associativeAdapter) FullMerge(key, existingValue []byte, operands [][]byte) ([]byte, bool) {
	result := existingValue
	for _, operand := range operands {
		merged, ok := a.op.Merge(key, result, operand)
		if !ok {
			return nil, false
		}
		result = merged
	}
	return result, true
}

func (a *associativeAdapter) PartialMerge(key, leftOperand, rightOperand []byte) ([]byte, bool) {
	return a.op.Merge(key, leftOperand, rightOperand)
}

// UInt64AddOperator treats values as little-endian uint64 counters and adds
// operands to them.
type UInt64AddOperator struct{}

// Name returns the name of this merge operator.
func (o *UInt64AddOperator) Name() string {
	return "UInt64AddOperator"
}

// FullMerge adds all operands to the existing value.
func (o *UInt64AddOperator) FullMerge(key, existingValue []byte, operands [][]byte) ([]byte, bool) {
	var sum uint64
	if existingValue != nil {
		if len(existingValue) != 8 {
			return nil, false
		}
		sum = binary.LittleEndian.Uint64(existingValue)
	}
	for _, operand := range operands {
		if len(operand) != 8 {
			return nil, false
		}
		sum += binary.LittleEndian.Uint64(operand)
	}
	return binary.LittleEndian.AppendUint64(nil, sum), true
}

// PartialMerge adds two operands together.
func (o *UInt64AddOperator) PartialMerge(key, left, right []byte) ([]byte, bool) {
	if len(left) != 8 || len(right) != 8 {
		return nil, false
	}
	sum := binary.LittleEndian.Uint64(left) + binary.LittleEndian.Uint64(right)
	return binary.LittleEndian.AppendUint64(nil, sum), true
}

// StringAppendOperator concatenates operands with a delimiter.
type StringAppendOperator struct {
	Delimiter string
}

// Name returns the name of this merge operator.
func (o *StringAppendOperator) Name() string {
	return "StringAppendOperator"
}

// FullMerge concatenates all operands onto the existing value.
func (o *StringAppendOperator) FullMerge(key, existingValue []byte, operands [][]byte) ([]byte, bool) {
	var result []byte
	if existingValue != nil {
		result = append(result, existingValue...)
	}
	for _, operand := range operands {
		if len(result) > 0 {
			result = append(result, o.Delimiter...)
		}
		result = append(result, operand...)
	}
	return result, true
}

// PartialMerge concatenates two operands with the delimiter.
func (o *StringAppendOperator) PartialMerge(key, left, right []byte) ([]byte, bool) {
	if len(left) == 0 {
		return append([]byte{}, right...), true
	}
	if len(right) == 0 {
		return append([]byte{}, left...), true
	}
	result := make([]byte, 0, len(left)+len(o.Delimiter)+len(right))
	result = append(result, left...)
	result = append(result, o.Delimiter...)
	result = append(result, right...)
	return result, true
}

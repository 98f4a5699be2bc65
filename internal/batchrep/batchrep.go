// Package batchrep encodes and decodes the write-batch wire representation
// shared by every engine provider.
//
// The format is byte-compatible with the native engine so that a rep built
// here can be handed to librocksdb unchanged:
//
//	Header (12 bytes):
//	  - 8 bytes: sequence number (little-endian uint64, 0 until applied)
//	  - 4 bytes: record count (little-endian uint32)
//	Records (repeated):
//	  - 1 byte: tag
//	  - for column family tags: varint32 column family id
//	  - length-prefixed key
//	  - for Put/Merge/DeleteRange: length-prefixed value
//
// Only the record types the binding emits are encoded; Iterate rejects
// anything else as corruption.
//
// Reference: RocksDB v10.7.5
//   - db/write_batch.cc
//   - db/dbformat.h (ValueType enum)
package batchrep

import (
	"encoding/binary"
	"errors"
)

// HeaderSize is the length of the sequence+count header.
const HeaderSize = 12

// Record tags. The values are the native engine's and must not change.
const (
	tagDeletion                 byte = 0x00
	tagValue                    byte = 0x01
	tagMerge                    byte = 0x02
	tagColumnFamilyDeletion     byte = 0x04
	tagColumnFamilyValue        byte = 0x05
	tagColumnFamilyMerge        byte = 0x06
	tagSingleDeletion           byte = 0x07
	tagColumnFamilySingleDelete byte = 0x08
	tagNoop                     byte = 0x0D
	tagColumnFamilyRangeDelete  byte = 0x0E
	tagRangeDeletion            byte = 0x0F
)

var (
	// ErrCorrupted reports a malformed or truncated record stream.
	ErrCorrupted = errors.New("batchrep: corrupted write batch")

	// ErrTooSmall reports a rep shorter than its header.
	ErrTooSmall = errors.New("batchrep: rep smaller than header")
)

// New returns an empty rep: a zeroed header and no records.
func New() []byte {
	return make([]byte, HeaderSize)
}

// Reset truncates rep back to an empty header, keeping its capacity.
func Reset(rep []byte) []byte {
	rep = rep[:HeaderSize]
	for i := range rep {
		rep[i] = 0
	}
	return rep
}

// Count returns the number of records in rep.
func Count(rep []byte) int {
	if len(rep) < HeaderSize {
		return 0
	}
	return int(binary.LittleEndian.Uint32(rep[8:12]))
}

// Sequence returns the sequence number stamped on rep.
func Sequence(rep []byte) uint64 {
	if len(rep) < HeaderSize {
		return 0
	}
	return binary.LittleEndian.Uint64(rep[0:8])
}

// SetSequence stamps the sequence number an engine assigned at apply time.
func SetSequence(rep []byte, seq uint64) {
	binary.LittleEndian.PutUint64(rep[0:8], seq)
}

func bumpCount(rep []byte) {
	binary.LittleEndian.PutUint32(rep[8:12], binary.LittleEndian.Uint32(rep[8:12])+1)
}

// AppendPut appends a put record for cfID (0 is the default family).
func AppendPut(rep []byte, cfID uint32, key, value []byte) []byte {
	if cfID == 0 {
		rep = append(rep, tagValue)
	} else {
		rep = append(rep, tagColumnFamilyValue)
		rep = binary.AppendUvarint(rep, uint64(cfID))
	}
	rep = appendSlice(rep, key)
	rep = appendSlice(rep, value)
	bumpCount(rep)
	return rep
}

// AppendDelete appends a delete record.
func AppendDelete(rep []byte, cfID uint32, key []byte) []byte {
	if cfID == 0 {
		rep = append(rep, tagDeletion)
	} else {
		rep = append(rep, tagColumnFamilyDeletion)
		rep = binary.AppendUvarint(rep, uint64(cfID))
	}
	rep = appendSlice(rep, key)
	bumpCount(rep)
	return rep
}

// AppendSingleDelete appends a single-delete record.
func AppendSingleDelete(rep []byte, cfID uint32, key []byte) []byte {
	if cfID == 0 {
		rep = append(rep, tagSingleDeletion)
	} else {
		rep = append(rep, tagColumnFamilySingleDelete)
		rep = binary.AppendUvarint(rep, uint64(cfID))
	}
	rep = appendSlice(rep, key)
	bumpCount(rep)
	return rep
}

// AppendMerge appends a merge record.
func AppendMerge(rep []byte, cfID uint32, key, operand []byte) []byte {
	if cfID == 0 {
		rep = append(rep, tagMerge)
	} else {
		rep = append(rep, tagColumnFamilyMerge)
		rep = binary.AppendUvarint(rep, uint64(cfID))
	}
	rep = appendSlice(rep, key)
	rep = appendSlice(rep, operand)
	bumpCount(rep)
	return rep
}

// AppendDeleteRange appends a range-delete record covering [start, end).
func AppendDeleteRange(rep []byte, cfID uint32, start, end []byte) []byte {
	if cfID == 0 {
		rep = append(rep, tagRangeDeletion)
	} else {
		rep = append(rep, tagColumnFamilyRangeDelete)
		rep = binary.AppendUvarint(rep, uint64(cfID))
	}
	rep = appendSlice(rep, start)
	rep = appendSlice(rep, end)
	bumpCount(rep)
	return rep
}

// Handler receives the decoded records of a rep in recorded order. cfID 0 is
// the default column family. Slices alias the rep and must not be retained.
type Handler interface {
	Put(cfID uint32, key, value []byte) error
	Delete(cfID uint32, key []byte) error
	SingleDelete(cfID uint32, key []byte) error
	Merge(cfID uint32, key, operand []byte) error
	DeleteRange(cfID uint32, start, end []byte) error
}

// Iterate replays every record in rep through h, stopping at the first
// handler error. A record stream that disagrees with the header count or
// carries an unknown tag reports ErrCorrupted.
func Iterate(rep []byte, h Handler) error {
	if len(rep) < HeaderSize {
		return ErrTooSmall
	}
	data := rep[HeaderSize:]
	want := Count(rep)
	seen := 0

	for len(data) > 0 {
		tag := data[0]
		data = data[1:]

		var cfID uint32
		var err error
		switch tag {
		case tagColumnFamilyValue, tagColumnFamilyDeletion, tagColumnFamilyMerge,
			tagColumnFamilySingleDelete, tagColumnFamilyRangeDelete:
			cfID, data, err = decodeVarint32(data)
			if err != nil {
				return err
			}
		}

		switch tag {
		case tagValue, tagColumnFamilyValue:
			var key, value []byte
			if key, data, err = decodeSlice(data); err != nil {
				return err
			}
			if value, data, err = decodeSlice(data); err != nil {
				return err
			}
			if err := h.Put(cfID, key, value); err != nil {
				return err
			}
			seen++

		case tagDeletion, tagColumnFamilyDeletion:
			var key []byte
			if key, data, err = decodeSlice(data); err != nil {
				return err
			}
			if err := h.Delete(cfID, key); err != nil {
				return err
			}
			seen++

		case tagSingleDeletion, tagColumnFamilySingleDelete:
			var key []byte
			if key, data, err = decodeSlice(data); err != nil {
				return err
			}
			if err := h.SingleDelete(cfID, key); err != nil {
				return err
			}
			seen++

		case tagMerge, tagColumnFamilyMerge:
			var key, operand []byte
			if key, data, err = decodeSlice(data); err != nil {
				return err
			}
			if operand, data, err = decodeSlice(data); err != nil {
				return err
			}
			if err := h.Merge(cfID, key, operand); err != nil {
				return err
			}
			seen++

		case tagRangeDeletion, tagColumnFamilyRangeDelete:
			var start, end []byte
			if start, data, err = decodeSlice(data); err != nil {
				return err
			}
			if end, data, err = decodeSlice(data); err != nil {
				return err
			}
			if err := h.DeleteRange(cfID, start, end); err != nil {
				return err
			}
			seen++

		case tagNoop:

		default:
			return ErrCorrupted
		}
	}

	if seen != want {
		return ErrCorrupted
	}
	return nil
}

func appendSlice(rep, s []byte) []byte {
	rep = binary.AppendUvarint(rep, uint64(len(s)))
	return append(rep, s...)
}

func decodeVarint32(data []byte) (uint32, []byte, error) {
	v, n := binary.Uvarint(data)
	if n <= 0 || v > 1<<32-1 {
		return 0, nil, ErrCorrupted
	}
	return uint32(v), data[n:], nil
}

func decodeSlice(data []byte) ([]byte, []byte, error) {
	length, rest, err := decodeVarint32(data)
	if err != nil {
		return nil, nil, err
	}
	if uint64(len(rest)) < uint64(length) {
		return nil, nil, ErrCorrupted
	}
	return rest[:length], rest[length:], nil
}

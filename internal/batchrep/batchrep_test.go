package batchrep

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedOp struct {
	op    string
	cfID  uint32
	key   string
	value string
}

type recorder struct {
	ops []recordedOp
}

func (r *recorder) Put(cfID uint32, key, value []byte) error {
	r.ops = append(r.ops, recordedOp{"put", cfID, string(key), string(value)})
	return nil
}

func (r *recorder) Delete(cfID uint32, key []byte) error {
	r.ops = append(r.ops, recordedOp{"delete", cfID, string(key), ""})
	return nil
}

func (r *recorder) SingleDelete(cfID uint32, key []byte) error {
	r.ops = append(r.ops, recordedOp{"singledelete", cfID, string(key), ""})
	return nil
}

func (r *recorder) Merge(cfID uint32, key, operand []byte) error {
	r.ops = append(r.ops, recordedOp{"merge", cfID, string(key), string(operand)})
	return nil
}

func (r *recorder) DeleteRange(cfID uint32, start, end []byte) error {
	r.ops = append(r.ops, recordedOp{"deleterange", cfID, string(start), string(end)})
	return nil
}

func TestIterateReplaysRecordedOrder(t *testing.T) {
	rep := New()
	rep = AppendPut(rep, 0, []byte("a"), []byte("1"))
	rep = AppendDelete(rep, 0, []byte("b"))
	rep = AppendMerge(rep, 3, []byte("c"), []byte("+2"))
	rep = AppendPut(rep, 7, []byte("d"), []byte("4"))
	rep = AppendSingleDelete(rep, 7, []byte("e"))
	rep = AppendDeleteRange(rep, 0, []byte("f"), []byte("g"))

	require.Equal(t, 6, Count(rep))

	var rec recorder
	require.NoError(t, Iterate(rep, &rec))

	want := []recordedOp{
		{"put", 0, "a", "1"},
		{"delete", 0, "b", ""},
		{"merge", 3, "c", "+2"},
		{"put", 7, "d", "4"},
		{"singledelete", 7, "e", ""},
		{"deleterange", 0, "f", "g"},
	}
	assert.Equal(t, want, rec.ops)
}

func TestEmptyValuesAndBinaryKeys(t *testing.T) {
	rep := New()
	rep = AppendPut(rep, 0, []byte{0x00, 0xff, 0x00}, nil)
	rep = AppendPut(rep, 2, nil, []byte{0xde, 0xad})

	var rec recorder
	require.NoError(t, Iterate(rep, &rec))
	require.Len(t, rec.ops, 2)
	assert.Equal(t, "\x00\xff\x00", rec.ops[0].key)
	assert.Equal(t, "", rec.ops[0].value)
	assert.Equal(t, uint32(2), rec.ops[1].cfID)
	assert.Equal(t, "", rec.ops[1].key)
}

func TestResetKeepsHeaderOnly(t *testing.T) {
	rep := New()
	rep = AppendPut(rep, 0, []byte("k"), []byte("v"))
	SetSequence(rep, 42)

	rep = Reset(rep)
	assert.Equal(t, HeaderSize, len(rep))
	assert.Equal(t, 0, Count(rep))
	assert.Equal(t, uint64(0), Sequence(rep))

	rep = AppendPut(rep, 0, []byte("k2"), []byte("v2"))
	var rec recorder
	require.NoError(t, Iterate(rep, &rec))
	assert.Equal(t, []recordedOp{{"put", 0, "k2", "v2"}}, rec.ops)
}

func TestSequenceRoundTrip(t *testing.T) {
	rep := New()
	SetSequence(rep, 1<<40+7)
	assert.Equal(t, uint64(1<<40+7), Sequence(rep))
}

func TestIterateRejectsCorruption(t *testing.T) {
	valid := AppendPut(New(), 0, []byte("key"), []byte("value"))

	tests := []struct {
		name string
		rep  []byte
	}{
		{"too small", valid[:HeaderSize-1]},
		{"truncated record", valid[:len(valid)-3]},
		{"unknown tag", append(append([]byte{}, New()...), 0x42)},
		{"count mismatch", func() []byte {
			rep := append([]byte{}, valid...)
			rep[8] = 9
			return rep
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rec recorder
			assert.Error(t, Iterate(tt.rep, &rec))
		})
	}
}

func TestDefaultFamilyUsesCompactTags(t *testing.T) {
	rep := AppendPut(New(), 0, []byte("k"), []byte("v"))
	assert.Equal(t, byte(0x01), rep[HeaderSize])

	rep = AppendPut(New(), 1, []byte("k"), []byte("v"))
	assert.Equal(t, byte(0x05), rep[HeaderSize])
}

// Package dump implements the offline dump file format the ldb tool writes
// and loads.
//
// A dump is a flat, engine-independent record stream: it carries column
// family names, keys and values and nothing about the engine that produced
// them, so a database dumped from one provider loads into another.
//
// File layout:
//
//	Header (9 bytes):
//	  - 8 bytes: magic "RBDUMP\x00\x01" (format version in the last byte)
//	  - 1 byte:  codec (none/snappy/lz4/zstd)
//	Frames (repeated):
//	  - uvarint: uncompressed length
//	  - uvarint: payload length
//	  - payload: codec-compressed block of records
//	End marker:
//	  - two zero uvarints
//	Trailer (8 bytes):
//	  - XXH3-64 of the uncompressed record stream, little-endian
//
//	Record (inside frames):
//	  - uvarint column family name length, name bytes
//	  - uvarint key length, key bytes
//	  - uvarint value length, value bytes
//
// The trailer hash covers the record bytes before compression, so a
// mismatch means the records were damaged regardless of which codec or
// frame carried them.
package dump

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/zeebo/xxh3"
)

var magic = [8]byte{'R', 'B', 'D', 'U', 'M', 'P', 0x00, 0x01}

// flushThreshold is the uncompressed block size a frame is cut at.
const flushThreshold = 1 << 20

var (
	// ErrBadMagic reports a file that is not a dump or uses a newer
	// format version.
	ErrBadMagic = errors.New("dump: bad magic or unsupported version")

	// ErrChecksum reports a trailer hash that disagrees with the record
	// stream.
	ErrChecksum = errors.New("dump: checksum mismatch")

	// ErrTruncated reports a file that ends inside a frame or before the
	// trailer.
	ErrTruncated = errors.New("dump: truncated file")
)

// Writer streams records into a dump file.
type Writer struct {
	w      io.Writer
	codec  Codec
	block  []byte
	hash   *xxh3.Hasher
	closed bool
}

// NewWriter starts a dump on w using the given codec. The caller must Close
// the writer to emit the end marker and integrity trailer.
func NewWriter(w io.Writer, codec Codec) (*Writer, error) {
	if _, err := codec.compress(nil); err != nil {
		return nil, err
	}
	header := append(append([]byte(nil), magic[:]...), byte(codec))
	if _, err := w.Write(header); err != nil {
		return nil, fmt.Errorf("dump: write header: %w", err)
	}
	return &Writer{w: w, codec: codec, hash: xxh3.New()}, nil
}

// Append records one key/value pair of the named column family. Appending
// after Close is an error.
func (dw *Writer) Append(cf string, key, value []byte) error {
	if dw.closed {
		return errors.New("dump: writer is closed")
	}
	dw.block = appendRecord(dw.block, cf, key, value)
	if len(dw.block) >= flushThreshold {
		return dw.flush()
	}
	return nil
}

func appendRecord(b []byte, cf string, key, value []byte) []byte {
	b = binary.AppendUvarint(b, uint64(len(cf)))
	b = append(b, cf...)
	b = binary.AppendUvarint(b, uint64(len(key)))
	b = append(b, key...)
	b = binary.AppendUvarint(b, uint64(len(value)))
	b = append(b, value...)
	return b
}

func (dw *Writer) flush() error {
	if len(dw.block) == 0 {
		return nil
	}
	_, _ = dw.hash.Write(dw.block)

	payload, err := dw.codec.compress(dw.block)
	if err != nil {
		return err
	}
	frame := binary.AppendUvarint(nil, uint64(len(dw.block)))
	frame = binary.AppendUvarint(frame, uint64(len(payload)))
	frame = append(frame, payload...)
	if _, err := dw.w.Write(frame); err != nil {
		return fmt.Errorf("dump: write frame: %w", err)
	}
	dw.block = dw.block[:0]
	return nil
}

// Close flushes the pending frame and writes the end marker and the XXH3
// trailer. Close is idempotent.
func (dw *Writer) Close() error {
	if dw.closed {
		return nil
	}
	if err := dw.flush(); err != nil {
		return err
	}
	dw.closed = true

	tail := binary.AppendUvarint(nil, 0)
	tail = binary.AppendUvarint(tail, 0)
	tail = binary.LittleEndian.AppendUint64(tail, dw.hash.Sum64())
	if _, err := dw.w.Write(tail); err != nil {
		return fmt.Errorf("dump: write trailer: %w", err)
	}
	return nil
}

// Record is one entry read back from a dump.
type Record struct {
	CF    string
	Key   []byte
	Value []byte
}

// Reader streams records out of a dump file. The trailer is verified when
// the end marker is reached; Next reports ErrChecksum instead of io.EOF
// when the hash disagrees.
type Reader struct {
	r     *bufio.Reader
	codec Codec
	hash  *xxh3.Hasher

	block []byte // current decompressed frame
	off   int
	done  bool
}

// NewReader opens a dump stream and validates its header.
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)
	var header [9]byte
	if _, err := io.ReadFull(br, header[:]); err != nil {
		return nil, ErrBadMagic
	}
	if [8]byte(header[:8]) != magic {
		return nil, ErrBadMagic
	}
	codec := Codec(header[8])
	if _, err := codec.decompress(nil); err != nil {
		return nil, err
	}
	return &Reader{r: br, codec: codec, hash: xxh3.New()}, nil
}

// Codec returns the codec the dump was written with.
func (dr *Reader) Codec() Codec {
	return dr.codec
}

// Next returns the next record. It returns io.EOF after the last record
// once the trailer verified cleanly.
func (dr *Reader) Next() (Record, error) {
	if dr.done {
		return Record{}, io.EOF
	}
	for dr.off >= len(dr.block) {
		if err := dr.nextFrame(); err != nil {
			return Record{}, err
		}
		if dr.done {
			return Record{}, io.EOF
		}
	}
	return dr.readRecord()
}

func (dr *Reader) nextFrame() error {
	rawLen, err := binary.ReadUvarint(dr.r)
	if err != nil {
		return ErrTruncated
	}
	payloadLen, err := binary.ReadUvarint(dr.r)
	if err != nil {
		return ErrTruncated
	}

	if rawLen == 0 && payloadLen == 0 {
		// End marker: verify the trailer.
		var sum [8]byte
		if _, err := io.ReadFull(dr.r, sum[:]); err != nil {
			return ErrTruncated
		}
		if binary.LittleEndian.Uint64(sum[:]) != dr.hash.Sum64() {
			return ErrChecksum
		}
		dr.done = true
		return nil
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(dr.r, payload); err != nil {
		return ErrTruncated
	}
	block, err := dr.codec.decompress(payload)
	if err != nil {
		return fmt.Errorf("dump: frame decompress: %w", err)
	}
	if uint64(len(block)) != rawLen {
		return fmt.Errorf("dump: frame length %d, header says %d", len(block), rawLen)
	}
	_, _ = dr.hash.Write(block)
	dr.block = block
	dr.off = 0
	return nil
}

func (dr *Reader) readRecord() (Record, error) {
	cf, err := dr.readSlice()
	if err != nil {
		return Record{}, err
	}
	key, err := dr.readSlice()
	if err != nil {
		return Record{}, err
	}
	value, err := dr.readSlice()
	if err != nil {
		return Record{}, err
	}
	return Record{CF: string(cf), Key: key, Value: value}, nil
}

// readSlice decodes one length-prefixed field from the current block. A
// record never spans frames.
func (dr *Reader) readSlice() ([]byte, error) {
	n, read := binary.Uvarint(dr.block[dr.off:])
	if read <= 0 {
		return nil, ErrTruncated
	}
	dr.off += read
	if dr.off+int(n) > len(dr.block) {
		return nil, ErrTruncated
	}
	out := append([]byte(nil), dr.block[dr.off:dr.off+int(n)]...)
	dr.off += int(n)
	return out, nil
}

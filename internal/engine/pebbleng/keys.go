// Package pebbleng implements the "pebble" engine provider: a pure-Go
// engine backed by github.com/cockroachdb/pebble that needs no native
// library.
//
// Column families are mapped onto pebble's single keyspace by prefixing
// every user key with the family's 4-byte big-endian id. Family metadata
// lives under a reserved prefix that assigned ids can never reach.
// Transactions are built above pebble: writes are buffered in the
// transaction and applied as one atomic batch at commit, with optimistic
// validation or pessimistic row locks deciding conflicts.
package pebbleng

import "encoding/binary"

// prefixLen is the length of the column family prefix on every stored key.
const prefixLen = 4

// metaCFID is the reserved prefix for engine metadata. Family ids are
// assigned sequentially from 1 and capped far below it.
const metaCFID = 0xffffffff

// maxCFID caps assignable family ids below the metadata prefix.
const maxCFID = 0xff000000

// The default column family exists in every store and is never dropped.
const (
	defaultCFID   uint32 = 0
	defaultCFName        = "default"
)

// cfKey returns the stored form of a user key in the given family.
func cfKey(id uint32, key []byte) []byte {
	k := make([]byte, prefixLen+len(key))
	binary.BigEndian.PutUint32(k, id)
	copy(k[prefixLen:], key)
	return k
}

// userKey strips the family prefix from a stored key.
func userKey(stored []byte) []byte {
	return stored[prefixLen:]
}

// cfLower returns the inclusive lower bound of a family's keyspace.
func cfLower(id uint32) []byte {
	k := make([]byte, prefixLen)
	binary.BigEndian.PutUint32(k, id)
	return k
}

// cfUpper returns the exclusive upper bound of a family's keyspace.
func cfUpper(id uint32) []byte {
	k := make([]byte, prefixLen)
	binary.BigEndian.PutUint32(k, id+1)
	return k
}

// Metadata records under the reserved prefix.
//
//	format           -> 1 (keyspace layout version)
//	nextcf           -> next family id to assign, 4-byte big-endian
//	cf:<name>        -> the family's id, 4-byte big-endian
func metaKey(suffix string) []byte {
	k := make([]byte, prefixLen, prefixLen+len(suffix))
	binary.BigEndian.PutUint32(k, metaCFID)
	return append(k, suffix...)
}

func metaFormatKey() []byte { return metaKey("format") }
func metaNextIDKey() []byte { return metaKey("nextcf") }

func metaCFKey(name string) []byte { return metaKey("cf:" + name) }

// metaCFRange bounds the family name records for scanning.
func metaCFRange() (lower, upper []byte) {
	return metaKey("cf:"), metaKey("cf;")
}

func encodeCFID(id uint32) []byte {
	v := make([]byte, 4)
	binary.BigEndian.PutUint32(v, id)
	return v
}

func decodeCFID(v []byte) (uint32, bool) {
	if len(v) != 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(v), true
}

// Package locktag maps logical-database ids onto advisory lock keys.
//
// The key follows the engine's layout for advisory locks:
//
//	field1: owning database id, so locks stay local to one engine database
//	field2: high-order half of an int8 key
//	field3: low-order half of an int8 key
//	field4: lock class; 1 and 2 are taken by user-callable advisory lock
//	        functions, so logical-database locks use 3
//
// A fixed offset is added to the key so that logical-database locks never
// share a key with small integers a user might lock.
package locktag

import (
	"encoding/binary"
	"fmt"
)

// Offset is added to every logical-database id before it is split.
const Offset int64 = 0xABCDEF

// ClassLogicalDatabase is the lock class reserved for logical databases.
const ClassLogicalDatabase uint16 = 3

// Tag is a four-field advisory lock key.
type Tag struct {
	Database uint32
	High     uint32
	Low      uint32
	Class    uint16
}

// ForLogicalDatabase builds the lock tag for logical database dbid inside
// engine database databaseID.
func ForLogicalDatabase(databaseID uint32, dbid int16) Tag {
	key := int64(dbid) + Offset
	return Tag{
		Database: databaseID,
		High:     uint32(key >> 32),
		Low:      uint32(key),
		Class:    ClassLogicalDatabase,
	}
}

// Key reassembles the offset int8 key from the two halves.
func (t Tag) Key() int64 {
	return int64(t.High)<<32 | int64(t.Low)
}

// LogicalDatabase recovers the logical-database id, reporting false when the
// tag was not produced by ForLogicalDatabase.
func (t Tag) LogicalDatabase() (int16, bool) {
	if t.Class != ClassLogicalDatabase {
		return 0, false
	}
	id := t.Key() - Offset
	if id < -32768 || id > 32767 {
		return 0, false
	}
	return int16(id), true
}

// Bytes returns a fixed 14-byte big-endian encoding of the tag.
func (t Tag) Bytes() []byte {
	buf := make([]byte, 14)
	binary.BigEndian.PutUint32(buf[0:4], t.Database)
	binary.BigEndian.PutUint32(buf[4:8], t.High)
	binary.BigEndian.PutUint32(buf[8:12], t.Low)
	binary.BigEndian.PutUint16(buf[12:14], t.Class)
	return buf
}

func (t Tag) String() string {
	return fmt.Sprintf("advisory(%d,%d,%d,%d)", t.Database, t.High, t.Low, t.Class)
}

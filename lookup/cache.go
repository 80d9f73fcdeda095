package lookup

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
)

// TableDecoder reconstructs a Table from its raw serialized bytes and
// address. The core has no concrete Table type of its own — decoding is
// owned by whichever collaborator defines what a table's data means.
type TableDecoder func(address PublicKey, data []byte) (Table, error)

// Cache reads and writes the bit-exact per-partition disk format: one file
// per partition named "<partition>.dat", little-endian
//
//	u32 numTables
//	repeat numTables times:
//	    byte[32] tableAddress
//	    u32      serializedLength
//	    byte[serializedLength] tableData
type Cache struct {
	dir    string
	decode TableDecoder
}

// NewCache builds a Cache rooted at dir, using decode to turn each raw
// table payload back into a Table on read.
func NewCache(dir string, decode TableDecoder) *Cache {
	return &Cache{dir: dir, decode: decode}
}

func (c *Cache) path(partition int) string {
	return filepath.Join(c.dir, fmt.Sprintf("%d.dat", partition))
}

// Read loads one partition's cached tables. A missing file is reported as
// (nil, false, nil), not an error — callers treat it as "not cached".
func (c *Cache) Read(partition int) ([]Table, bool, error) {
	data, err := os.ReadFile(c.path(partition))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if len(data) < 4 {
		return nil, false, fmt.Errorf("lookup: partition %d cache corrupt: file too short", partition)
	}

	numTables := binary.LittleEndian.Uint32(data[:4])
	offset := 4
	tables := make([]Table, 0, numTables)
	var sumLengths uint64
	for i := uint32(0); i < numTables; i++ {
		if offset+32+4 > len(data) {
			return nil, false, fmt.Errorf("lookup: partition %d cache corrupt: truncated header at table %d", partition, i)
		}
		var address PublicKey
		copy(address[:], data[offset:offset+32])
		offset += 32

		length := binary.LittleEndian.Uint32(data[offset : offset+4])
		offset += 4
		if offset+int(length) > len(data) {
			return nil, false, fmt.Errorf("lookup: partition %d cache corrupt: truncated table %d", partition, i)
		}

		table, err := c.decode(address, data[offset:offset+int(length)])
		if err != nil {
			return nil, false, fmt.Errorf("lookup: partition %d cache corrupt: decode table %d: %w", partition, i, err)
		}
		offset += int(length)
		sumLengths += uint64(length)
		tables = append(tables, table)
	}

	expected := uint64(len(data)) - 4 - 36*uint64(numTables)
	if sumLengths != expected {
		return nil, false, fmt.Errorf("lookup: partition %d cache corrupt: serialized length sum %d, expected %d", partition, sumLengths, expected)
	}
	return tables, true, nil
}

// Write serializes tables for one partition under CREATE|WRITE|TRUNCATE
// semantics; os.WriteFile opens with O_TRUNC|O_CREATE, the Go equivalent.
func (c *Cache) Write(partition int, tables []Table) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return err
	}

	size := 4
	for _, t := range tables {
		size += 32 + 4 + t.DataLen()
	}
	out := make([]byte, size)
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(tables)))

	offset := 4
	for _, t := range tables {
		addr := t.Address()
		copy(out[offset:offset+32], addr[:])
		offset += 32

		length := t.DataLen()
		binary.LittleEndian.PutUint32(out[offset:offset+4], uint32(length))
		offset += 4

		n := t.Write(out[offset : offset+length])
		offset += n
	}

	return os.WriteFile(c.path(partition), out, 0o644)
}

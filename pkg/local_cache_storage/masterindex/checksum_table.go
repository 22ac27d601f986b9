package masterindex

import (
	"encoding/binary"

	"github.com/nspcc-dev/js5cache/pkg/local_cache_storage/common"
)

const checksumTableSeed = 1234

// ChecksumTable is the legacy list of archive checksums followed by a
// rolling checksum of the list.
type ChecksumTable []uint32

func (t ChecksumTable) rolling() uint32 {
	c := uint32(checksumTableSeed)
	for _, e := range t {
		c = c<<1 + e
	}
	return c
}

// Marshal encodes the table.
func (t ChecksumTable) Marshal() []byte {
	b := make([]byte, 0, (len(t)+1)*4)
	for _, e := range t {
		b = binary.BigEndian.AppendUint32(b, e)
	}
	return binary.BigEndian.AppendUint32(b, t.rolling())
}

// UnmarshalChecksumTable decodes a table and checks its rolling checksum.
func UnmarshalChecksumTable(b []byte) (ChecksumTable, error) {
	if len(b) < 4 || len(b)%4 != 0 {
		return nil, common.Errorf(common.ErrInvalidManifest, "invalid checksum table length %d", len(b))
	}

	t := make(ChecksumTable, len(b)/4-1)
	for i := range t {
		t[i] = binary.BigEndian.Uint32(b[i*4:])
	}

	if actual := binary.BigEndian.Uint32(b[len(b)-4:]); actual != t.rolling() {
		return nil, common.Errorf(common.ErrChecksumMismatch, "checksum table: expected %#x, found %#x", t.rolling(), actual)
	}

	return t, nil
}

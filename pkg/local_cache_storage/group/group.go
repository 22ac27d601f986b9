// Package group packs the files of a group into a single buffer and back.
//
// A group of one file is the file itself. A group of several files is laid
// out as
//
//	[stripe 0 of every file]...[stripe N-1 of every file][trailer][u8 N]
//
// where the trailer holds, for every stripe and every file in that stripe, a
// big-endian int32 with the difference between the file's stripe length and
// the previous file's stripe length (0 for the first file).
package group

import (
	"encoding/binary"
	"math"

	"github.com/nspcc-dev/js5cache/pkg/local_cache_storage/common"
)

const deltaLen = 4

// Split unpacks data into fileCount files. Returned files do not share
// memory with data.
func Split(data []byte, fileCount int) ([][]byte, error) {
	if fileCount < 1 {
		return nil, common.Errorf(common.ErrInvalidGroupFraming, "invalid file count %d", fileCount)
	}

	if fileCount == 1 {
		return [][]byte{append([]byte{}, data...)}, nil
	}

	if len(data) == 0 {
		return nil, common.Errorf(common.ErrInvalidGroupFraming, "missing stripe count")
	}

	stripes := int(data[len(data)-1])
	trailerLen := stripes*fileCount*deltaLen + 1
	if trailerLen > len(data) {
		return nil, common.Errorf(common.ErrInvalidGroupFraming,
			"trailer of %d stripes for %d files exceeds %d bytes", stripes, fileCount, len(data))
	}

	var (
		trailerOff = len(data) - trailerLen
		trailer    = data[trailerOff : len(data)-1]
		lens       = make([]int64, fileCount)
		chunks     = make([]int64, stripes*fileCount)
	)

	for s := range stripes {
		var prev int64
		for f := range fileCount {
			i := s*fileCount + f
			prev += int64(int32(binary.BigEndian.Uint32(trailer[i*deltaLen:])))
			if prev < 0 {
				return nil, common.Errorf(common.ErrInvalidGroupFraming,
					"negative length of file %d in stripe %d", f, s)
			}
			chunks[i] = prev
			lens[f] += prev
		}
	}

	var total int64
	for _, l := range lens {
		total += l
	}
	if total != int64(trailerOff) {
		return nil, common.Errorf(common.ErrInvalidGroupFraming,
			"files take %d bytes, data region is %d bytes", total, trailerOff)
	}

	files := make([][]byte, fileCount)
	for f := range files {
		files[f] = make([]byte, 0, lens[f])
	}

	var off int64
	for i, n := range chunks {
		f := i % fileCount
		files[f] = append(files[f], data[off:off+n]...)
		off += n
	}

	return files, nil
}

// Join packs files into a group using a single stripe.
func Join(files [][]byte) ([]byte, error) {
	if len(files) == 0 {
		return nil, common.Errorf(common.ErrInvalidGroupFraming, "group has no files")
	}

	if len(files) == 1 {
		return append([]byte{}, files[0]...), nil
	}

	var total int
	for i, f := range files {
		if len(f) > math.MaxInt32 {
			return nil, common.Errorf(common.ErrInvalidGroupFraming, "file %d is too large", i)
		}
		total += len(f)
	}

	if total == 0 {
		return []byte{0}, nil
	}

	out := make([]byte, 0, total+len(files)*deltaLen+1)
	for _, f := range files {
		out = append(out, f...)
	}

	var prev int
	for _, f := range files {
		out = binary.BigEndian.AppendUint32(out, uint32(int32(len(f)-prev)))
		prev = len(f)
	}

	return append(out, 1), nil
}

package common

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when the requested archive, group or file is
// absent from the cache.
var ErrNotFound = errors.New("not found")

// ErrCorruptSectorChain MUST be returned when a sector header does not match
// the expected archive, group or chunk index, or when a chain points outside
// the data file or runs past the indexed length.
var ErrCorruptSectorChain = errors.New("corrupt sector chain")

// ErrTruncatedStore MUST be returned when a sector chain (or the data file
// itself) ends before the indexed number of bytes was recovered.
var ErrTruncatedStore = errors.New("truncated store")

// ErrDecompression is returned when a container payload is malformed or does
// not decompress to exactly the declared length.
var ErrDecompression = errors.New("decompression failure")

// ErrInvalidGroupFraming is returned when a multi-file group trailer is
// inconsistent with the data it describes.
var ErrInvalidGroupFraming = errors.New("invalid group framing")

// ErrChecksumMismatch is returned when stored bytes do not match the
// checksum recorded for them. It does not prevent the data from being used.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// ErrFileIndexOutOfRange is returned when a group exists but does not
// contain the requested file.
var ErrFileIndexOutOfRange = errors.New("file index out of range")

// ErrOutOfRange is returned for archive, group or sector ids that cannot be
// represented in the on-disk format.
var ErrOutOfRange = errors.New("archive or group id out of range")

// ErrInvalidKeyOrCorruptData is returned when an encrypted container fails to
// decode. A wrong XTEA key is indistinguishable from corrupt data.
var ErrInvalidKeyOrCorruptData = errors.New("invalid key or corrupt data")

// ErrInvalidManifest is returned when an archive manifest or a master index
// cannot be parsed.
var ErrInvalidManifest = errors.New("invalid manifest")

// ErrReadOnly MUST be returned for modifying operations when the storage was
// opened in read-only mode.
var ErrReadOnly = errors.New("opened as read-only")

// Wrap returns err annotated with kind so that errors.Is matches both.
func Wrap(kind error, err error) error {
	return fmt.Errorf("%w: %w", kind, err)
}

// Errorf returns an error of the given kind with formatted context.
func Errorf(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

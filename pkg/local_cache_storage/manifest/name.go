package manifest

import (
	"golang.org/x/text/encoding/charmap"
)

// NameHash returns the hash groups and files are looked up by. Characters
// are hashed as their Windows-1252 codes, unmappable ones as '?'.
func NameHash(name string) int32 {
	var h int32
	for _, c := range name {
		b, ok := charmap.Windows1252.EncodeRune(c)
		if !ok {
			b = '?'
		}
		h = 31*h + int32(b)
	}
	return h
}

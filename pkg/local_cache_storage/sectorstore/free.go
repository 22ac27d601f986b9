package sectorstore

import (
	"math/bits"
)

const maxArchives = 256

type freeKey struct {
	archive uint8
	class   uint8
}

// freeList keeps chains released by overwritten and removed groups. Chains
// are bucketed by the archive they belonged to and by the bit length of
// their sector count. It is not safe for concurrent use.
type freeList struct {
	chains map[freeKey][][]uint32
	total  int
}

func newFreeList() *freeList {
	return &freeList{chains: make(map[freeKey][][]uint32)}
}

func lengthClass(n int) uint8 {
	return uint8(bits.Len(uint(n)))
}

func (l *freeList) put(archive uint8, sectors []uint32) {
	if len(sectors) == 0 {
		return
	}

	k := freeKey{archive: archive, class: lengthClass(len(sectors))}
	l.chains[k] = append(l.chains[k], sectors)
	l.total += len(sectors)
}

// take returns n sectors from the first chain of at least n sectors,
// preferring chains released by the same archive. The rest of the chosen
// chain stays free.
func (l *freeList) take(archive uint8, n int) []uint32 {
	if l.total < n {
		return nil
	}

	if s := l.takeFrom(archive, n); s != nil {
		return s
	}

	for a := range maxArchives {
		if uint8(a) == archive {
			continue
		}
		if s := l.takeFrom(uint8(a), n); s != nil {
			return s
		}
	}

	return nil
}

func (l *freeList) takeFrom(archive uint8, n int) []uint32 {
	for class := lengthClass(n); class <= bits.UintSize; class++ {
		k := freeKey{archive: archive, class: class}

		chains := l.chains[k]
		for i, c := range chains {
			if len(c) < n {
				continue
			}

			chains = append(chains[:i], chains[i+1:]...)
			if len(chains) == 0 {
				delete(l.chains, k)
			} else {
				l.chains[k] = chains
			}
			l.total -= len(c)

			l.put(archive, c[n:])
			return c[:n:n]
		}
	}

	return nil
}

// len returns the number of free sectors.
func (l *freeList) len() int {
	return l.total
}

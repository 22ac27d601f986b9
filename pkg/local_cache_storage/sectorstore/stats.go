package sectorstore

import (
	"go.uber.org/atomic"
)

// Stats are cumulative counters of a Store since it was opened.
type Stats struct {
	GroupsRead     uint64
	GroupsWritten  uint64
	GroupsRemoved  uint64
	BytesRead      uint64
	BytesWritten   uint64
	SectorsAppend  uint64
	SectorsReused  uint64
	SectorsFreed   uint64
	FreeSectors    int
	DataFileLength int64
}

type counters struct {
	groupsRead    atomic.Uint64
	groupsWritten atomic.Uint64
	groupsRemoved atomic.Uint64
	bytesRead     atomic.Uint64
	bytesWritten  atomic.Uint64
	sectorsAppend atomic.Uint64
	sectorsReused atomic.Uint64
	sectorsFreed  atomic.Uint64
}

// Stats returns a snapshot of the store counters.
func (s *Store) Stats() Stats {
	s.allocMtx.Lock()
	free := s.free.len()
	s.allocMtx.Unlock()

	return Stats{
		GroupsRead:     s.stats.groupsRead.Load(),
		GroupsWritten:  s.stats.groupsWritten.Load(),
		GroupsRemoved:  s.stats.groupsRemoved.Load(),
		BytesRead:      s.stats.bytesRead.Load(),
		BytesWritten:   s.stats.bytesWritten.Load(),
		SectorsAppend:  s.stats.sectorsAppend.Load(),
		SectorsReused:  s.stats.sectorsReused.Load(),
		SectorsFreed:   s.stats.sectorsFreed.Load(),
		FreeSectors:    free,
		DataFileLength: s.dataSize.Load(),
	}
}

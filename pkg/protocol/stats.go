package protocol

import (
	"sync"
	"sync/atomic"
)

// stats tracks one connection's counters. Scalars are atomics so both
// loops update them without coordination; the per-type maps take a
// mutex because packet types are strings.
type stats struct {
	packetsSent     atomic.Uint64
	packetsRecv     atomic.Uint64
	bytesSent       atomic.Uint64
	bytesRecv       atomic.Uint64
	framesSent      atomic.Uint64
	framesRecv      atomic.Uint64
	chunksRecv      atomic.Uint64
	compressSkipped atomic.Uint64
	coalesced       atomic.Uint64

	mu     sync.Mutex
	sentBy map[string]uint64
	recvBy map[string]uint64
}

func newStats() *stats {
	return &stats{
		sentBy: make(map[string]uint64),
		recvBy: make(map[string]uint64),
	}
}

func (s *stats) addSent(ptype string, bytes, frames int) {
	s.packetsSent.Add(1)
	s.bytesSent.Add(uint64(bytes))
	s.framesSent.Add(uint64(frames))
	s.mu.Lock()
	s.sentBy[ptype]++
	s.mu.Unlock()
}

func (s *stats) addRecv(ptype string, bytes int) {
	s.packetsRecv.Add(1)
	s.bytesRecv.Add(uint64(bytes))
	s.mu.Lock()
	s.recvBy[ptype]++
	s.mu.Unlock()
}

func (s *stats) frameIn(chunk bool) {
	s.framesRecv.Add(1)
	if chunk {
		s.chunksRecv.Add(1)
	}
}

func (s *stats) snapshot() map[string]any {
	s.mu.Lock()
	sent := make(map[string]uint64, len(s.sentBy))
	for k, v := range s.sentBy {
		sent[k] = v
	}
	recv := make(map[string]uint64, len(s.recvBy))
	for k, v := range s.recvBy {
		recv[k] = v
	}
	s.mu.Unlock()

	return map[string]any{
		"packets_sent":        s.packetsSent.Load(),
		"packets_received":    s.packetsRecv.Load(),
		"bytes_sent":          s.bytesSent.Load(),
		"bytes_received":      s.bytesRecv.Load(),
		"frames_sent":         s.framesSent.Load(),
		"frames_received":     s.framesRecv.Load(),
		"chunks_received":     s.chunksRecv.Load(),
		"compression_skipped": s.compressSkipped.Load(),
		"coalesced_packets":   s.coalesced.Load(),
		"sent_by_type":        sent,
		"received_by_type":    recv,
	}
}

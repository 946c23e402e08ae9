package sync

import "sync/atomic"

// Progress counts records written during a run. It is shared by all batch
// workers and only ever updated atomically.
type Progress struct {
	written atomic.Int64
}

// Add records n more written records and returns the new total
func (p *Progress) Add(n int64) int64 {
	return p.written.Add(n)
}

// Written returns the number of records written so far
func (p *Progress) Written() int64 {
	return p.written.Load()
}

// Package record holds the game record model and the pure reconciliation
// helpers used by a sync run.
package record

import "fmt"

// DefaultBatchSize is the number of records written as one batch
const DefaultBatchSize = 10

// Record is one owned game, keyed by its Steam app id
type Record struct {
	ID   int64
	Name string
}

// String implements fmt.Stringer
func (r Record) String() string {
	return fmt.Sprintf("%d (%s)", r.ID, r.Name)
}

// Set indexes records by id for membership tests
type Set map[int64]Record

// NewSet builds a Set from records. Later duplicates do not replace earlier ones.
func NewSet(records []Record) Set {
	s := make(Set, len(records))
	for _, r := range records {
		if _, ok := s[r.ID]; !ok {
			s[r.ID] = r
		}
	}
	return s
}

// Contains reports whether id is in the set
func (s Set) Contains(id int64) bool {
	_, ok := s[id]
	return ok
}

// Delta is the ordered list of records missing from a store
type Delta []Record

// Diff returns the records of source whose id is not in existing, in source
// order. A source id that appears more than once is emitted only once.
func Diff(source []Record, existing Set) Delta {
	delta := make(Delta, 0)
	seen := make(map[int64]struct{}, len(source))
	for _, r := range source {
		if existing.Contains(r.ID) {
			continue
		}
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}
		delta = append(delta, r)
	}
	return delta
}

// Partition splits records into consecutive batches of size. The final batch
// may be shorter. A size below 1 is treated as DefaultBatchSize.
func Partition(records []Record, size int) [][]Record {
	if size < 1 {
		size = DefaultBatchSize
	}
	batches := make([][]Record, 0, (len(records)+size-1)/size)
	for start := 0; start < len(records); start += size {
		end := min(start+size, len(records))
		batches = append(batches, records[start:end:end])
	}
	return batches
}

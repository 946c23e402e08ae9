package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func genRecords(t *rapid.T, label string) []Record {
	ids := rapid.SliceOfDistinct(rapid.Int64Range(1, 500), func(id int64) int64 { return id }).Draw(t, label)
	records := make([]Record, len(ids))
	for i, id := range ids {
		records[i] = Record{ID: id, Name: rapid.StringN(0, 12, -1).Draw(t, label+"-name")}
	}
	return records
}

func TestDiff(t *testing.T) {
	source := []Record{{1, "Portal"}, {2, "Half-Life"}, {3, "Dota 2"}}
	existing := NewSet([]Record{{2, "Half-Life"}})

	assert.Equal(t, Delta{{1, "Portal"}, {3, "Dota 2"}}, Diff(source, existing))
	assert.Empty(t, Diff(source, NewSet(source)))
	assert.Empty(t, Diff(nil, existing))
	assert.NotNil(t, Diff(nil, existing))
}

func TestDiff_DuplicateSourceIDs(t *testing.T) {
	source := []Record{{1, "first"}, {2, "b"}, {1, "second"}}
	assert.Equal(t, Delta{{1, "first"}, {2, "b"}}, Diff(source, Set{}))
}

func TestDiff_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		source := genRecords(t, "source")
		existing := NewSet(genRecords(t, "existing"))

		delta := Diff(source, existing)

		// exactly the source records whose id is absent, in source order
		var want Delta
		for _, r := range source {
			if !existing.Contains(r.ID) {
				want = append(want, r)
			}
		}
		if len(want) != len(delta) {
			t.Fatalf("expected %d records, got %d", len(want), len(delta))
		}
		seen := map[int64]bool{}
		for i := range delta {
			if delta[i] != want[i] {
				t.Fatalf("position %d: expected %v, got %v", i, want[i], delta[i])
			}
			if seen[delta[i].ID] {
				t.Fatalf("duplicate id %d", delta[i].ID)
			}
			seen[delta[i].ID] = true
		}
	})
}

func TestDiff_Idempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		source := genRecords(t, "source")
		existing := NewSet(genRecords(t, "existing"))

		delta := Diff(source, existing)
		for _, r := range delta {
			existing[r.ID] = r
		}
		if again := Diff(source, existing); len(again) != 0 {
			t.Fatalf("second diff should be empty, got %v", again)
		}
	})
}

func TestPartition(t *testing.T) {
	records := make([]Record, 25)
	for i := range records {
		records[i] = Record{ID: int64(i + 1)}
	}
	batches := Partition(records, 10)
	assert.Len(t, batches, 3)
	assert.Len(t, batches[0], 10)
	assert.Len(t, batches[1], 10)
	assert.Len(t, batches[2], 5)

	assert.Empty(t, Partition(nil, 10))
	assert.Len(t, Partition(records, 0), 3, "invalid size falls back to the default")
}

func TestPartition_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		records := genRecords(t, "records")
		size := rapid.IntRange(1, 15).Draw(t, "size")

		batches := Partition(records, size)

		if want := (len(records) + size - 1) / size; len(batches) != want {
			t.Fatalf("expected %d batches, got %d", want, len(batches))
		}
		var joined []Record
		for i, b := range batches {
			if i < len(batches)-1 && len(b) != size {
				t.Fatalf("batch %d has %d items, expected %d", i, len(b), size)
			}
			if len(b) == 0 || len(b) > size {
				t.Fatalf("batch %d has invalid size %d", i, len(b))
			}
			joined = append(joined, b...)
		}
		if len(joined) != len(records) {
			t.Fatalf("concatenation has %d records, expected %d", len(joined), len(records))
		}
		for i := range records {
			if joined[i] != records[i] {
				t.Fatalf("position %d: expected %v, got %v", i, records[i], joined[i])
			}
		}
	})
}

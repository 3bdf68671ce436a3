package parallel

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/YuminosukeSato/gocmt/pkg/errors"
)

func TestParallelizeChunksCoversRange(t *testing.T) {
	tests := []struct {
		items     int
		chunkSize int
		chunks    int
	}{
		{0, 10, 0},
		{1, 10, 1},
		{10, 10, 1},
		{11, 10, 2},
		{1000, 7, 143},
		{300, 0, 2},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d/%d", tt.items, tt.chunkSize), func(t *testing.T) {
			if got := NumChunks(tt.items, tt.chunkSize); got != tt.chunks {
				t.Fatalf("NumChunks = %d, want %d", got, tt.chunks)
			}
			seen := make([]int32, tt.items)
			err := ParallelizeChunks(tt.items, tt.chunkSize, func(_, start, end int) error {
				for i := start; i < end; i++ {
					atomic.AddInt32(&seen[i], 1)
				}
				return nil
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			for i, n := range seen {
				if n != 1 {
					t.Fatalf("item %d visited %d times", i, n)
				}
			}
		})
	}
}

func TestParallelizeChunksDeterministicReduction(t *testing.T) {
	values := make([]float64, 5000)
	for i := range values {
		values[i] = 1.0 / float64(i+1)
	}

	sum := func() float64 {
		partial := make([]float64, NumChunks(len(values), 64))
		_ = ParallelizeChunks(len(values), 64, func(c, start, end int) error {
			for _, v := range values[start:end] {
				partial[c] += v
			}
			return nil
		})
		total := 0.0
		for _, p := range partial {
			total += p
		}
		return total
	}

	first := sum()
	for i := 0; i < 10; i++ {
		if got := sum(); got != first {
			t.Fatalf("reduction not bit-identical: %v vs %v", got, first)
		}
	}
}

func TestParallelizeChunksErrors(t *testing.T) {
	errBoom := errors.New("boom")

	err := ParallelizeChunks(100, 10, func(c, _, _ int) error {
		if c == 3 || c == 7 {
			return errors.Wrapf(errBoom, "chunk %d", c)
		}
		return nil
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected wrapped errBoom, got %v", err)
	}
	if err.Error() != "chunk 3: boom" {
		t.Errorf("expected lowest failing chunk, got %q", err.Error())
	}

	err = ParallelizeChunks(20, 10, func(c, _, _ int) error {
		if c == 1 {
			panic("bad row")
		}
		return nil
	})
	var panicErr *errors.PanicError
	if !errors.As(err, &panicErr) {
		t.Fatalf("expected PanicError, got %v", err)
	}
}

func TestParallelizeWithThreshold(t *testing.T) {
	var calls int32
	ParallelizeWithThreshold(5, 10, func(start, end int) {
		atomic.AddInt32(&calls, 1)
		if start != 0 || end != 5 {
			t.Errorf("sequential call got [%d, %d)", start, end)
		}
	})
	if calls != 1 {
		t.Errorf("expected one sequential call, got %d", calls)
	}

	var total int64
	Parallelize(1000, func(start, end int) {
		atomic.AddInt64(&total, int64(end-start))
	})
	if total != 1000 {
		t.Errorf("Parallelize covered %d items, want 1000", total)
	}
}

package solver

import (
	"fmt"
	"sync"
	"time"

	"github.com/Codesmith28/cloud-dispatch/internal/variant"
)

// SumOfSquares is the reference Solver used by the default master/worker
// binaries. It mirrors original_source's demo
// SolverImpl: the master seeds N tasks {0..N-1}; each worker computes
// taskId*taskId; the master sums every result and prints the total on
// Finish.
type SumOfSquares struct {
	N int

	mu      sync.Mutex
	results map[int64]int64
	total   int64
}

func NewSumOfSquares(n int) *SumOfSquares {
	return &SumOfSquares{N: n, results: make(map[int64]int64)}
}

func (s *SumOfSquares) InitAsMaster(appender TaskAppender) {
	for i := 0; i < s.N; i++ {
		appender.AddTask(int64(i))
	}
}

func (s *SumOfSquares) InitAsWorker() {}

func (s *SumOfSquares) Compute(taskID int64) variant.Variants {
	return variant.Variants{variant.Int64(taskID * taskID)}
}

func (s *SumOfSquares) SetResult(taskID int64, result variant.Reader, timeUsage time.Duration) {
	var v int64
	if result != nil && result.Len() > 0 && result.Kind(0) == variant.KindInt64 {
		v = result.Int64(0)
	}
	s.mu.Lock()
	s.results[taskID] = v
	s.total += v
	s.mu.Unlock()
}

func (s *SumOfSquares) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Printf("sum of squares for tasks 0..%d = %d\n", s.N-1, s.total)
}

// Total returns the running sum, primarily for tests.
func (s *SumOfSquares) Total() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

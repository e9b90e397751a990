package benchmark

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/user/ipibench/internal/engine"
	"github.com/user/ipibench/internal/evidence"
)

// Tally is what a single worker measured.
type Tally struct {
	Worker   int           `json:"worker"`
	Count    int64         `json:"count"`
	Skipped  int64         `json:"skipped"`
	Elapsed  time.Duration `json:"elapsed"`
	Checksum uint64        `json:"checksum"`
}

// DetectionsPerSecond is the worker's own throughput.
func (t Tally) DetectionsPerSecond() int64 {
	ms := float64(t.Elapsed) / float64(time.Millisecond)
	if ms <= 0 {
		return 0
	}
	return int64(math.Round(1000 * float64(t.Count) / ms))
}

// Worker runs detections on one goroutine. It only reads the engine and the
// evidence, so it needs no locking.
type Worker struct {
	ID         int
	Engine     engine.Engine
	Evidence   *evidence.Source
	Iterations int
	Property   string
	Logger     *zap.Logger
	// OnIteration, if set, is called after every iteration and must be safe
	// for concurrent use.
	OnIteration func()
}

// Run performs exactly Iterations attempts. Iteration i uses evidence
// record i, wrapping around the source. A failed attempt is logged and
// skipped: it is not counted and not retried.
func (w *Worker) Run() Tally {
	logger := w.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	tally := Tally{Worker: w.ID}
	start := time.Now()
	for i := 0; i < w.Iterations; i++ {
		sum, err := w.detect(w.Evidence.Get(i))
		if err != nil {
			tally.Skipped++
			logger.Warn("detection failed",
				zap.Int("worker", w.ID),
				zap.Int("iteration", i),
				zap.Error(err))
		} else {
			tally.Count++
			// Folding every result into the checksum keeps the detection
			// observable, so it cannot be optimised away.
			tally.Checksum += sum
		}
		if w.OnIteration != nil {
			w.OnIteration()
		}
	}
	tally.Elapsed = time.Since(start)
	return tally
}

func (w *Worker) detect(rec evidence.Record) (uint64, error) {
	sess, err := w.Engine.NewSession()
	if err != nil {
		return 0, fmt.Errorf("open session: %w", err)
	}
	defer sess.Close()

	if err := sess.Submit(rec); err != nil {
		return 0, fmt.Errorf("submit evidence: %w", err)
	}
	if err := sess.Process(); err != nil {
		return 0, err
	}
	return engine.Checksum(sess, w.Property), nil
}

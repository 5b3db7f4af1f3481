// Package loadtest drives the sync engine with many concurrent players.
//
// Each player saves attempts and credits the ranking as fast as it can. When
// the run finishes, every attempt must be synced exactly once and every
// ranking entry must hold the sum of its player's scores.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/quizapp/quizsync/internal/quiz/local"
	"github.com/quizapp/quizsync/internal/quiz/remote"
	"github.com/quizapp/quizsync/internal/quiz/schema"
	quizsync "github.com/quizapp/quizsync/internal/quiz/sync"
)

// Options shapes a run.
type Options struct {
	Players           int
	AttemptsPerPlayer int

	// QuestionsPerQuiz is the total of every attempt (default 10)
	QuestionsPerQuiz int

	// Seed makes scores reproducible
	Seed uint64
}

// Env is a fresh local cache and remote store in one directory.
type Env struct {
	Local  *local.Store
	Remote *remote.DocStore
	Engine *quizsync.Engine
}

// NewEnv creates local.db and remote.db in dir and starts an engine on them.
func NewEnv(ctx context.Context, dir string, logger *log.Logger) (*Env, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	loc, err := local.Open(filepath.Join(dir, "local.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open local cache: %w", err)
	}
	if err := loc.InitSchema(ctx); err != nil {
		_ = loc.Close()
		return nil, fmt.Errorf("failed to initialize local cache: %w", err)
	}

	rem, err := remote.Open(ctx, "sqlite3", filepath.Join(dir, "remote.db"), remote.Options{Logger: logger})
	if err != nil {
		_ = loc.Close()
		return nil, fmt.Errorf("failed to open remote store: %w", err)
	}

	engine, err := quizsync.New(ctx, quizsync.Config{
		Local:  loc,
		Remote: rem,
		Logger: logger,
	})
	if err != nil {
		_ = rem.Close()
		_ = loc.Close()
		return nil, err
	}
	return &Env{Local: loc, Remote: rem, Engine: engine}, nil
}

// Close stops the engine and closes both stores.
func (e *Env) Close() error {
	_ = e.Engine.Close()
	_ = e.Remote.Close()
	return e.Local.Close()
}

// LatencyStats captures per-call latencies.
type LatencyStats struct {
	Min        time.Duration
	Max        time.Duration
	Mean       time.Duration
	P50        time.Duration
	P95        time.Duration
	P99        time.Duration
	TotalCalls int
	Errors     int
}

// Report is the outcome of Run.
type Report struct {
	Save    *LatencyStats
	Ranking *LatencyStats
	Elapsed time.Duration

	Attempts      int
	Synced        int
	RemoteDocs    int
	ExpectedTotal int64
	RankingTotal  int64
	Sweep         quizsync.SweepResult
}

// Run plays opts.Players concurrent players against the environment.
func (e *Env) Run(ctx context.Context, opts Options) (*Report, error) {
	if opts.Players <= 0 || opts.AttemptsPerPlayer <= 0 {
		return nil, fmt.Errorf("players and attempts must be positive")
	}
	if opts.QuestionsPerQuiz <= 0 {
		opts.QuestionsPerQuiz = 10
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		saves    []time.Duration
		rankings []time.Duration
		saveErrs int
		rankErrs int
		expected int64
	)

	start := time.Now()
	for p := 0; p < opts.Players; p++ {
		wg.Add(1)
		go func(player int) {
			defer wg.Done()

			rng := rand.New(rand.NewPCG(opts.Seed, uint64(player)))
			uid := fmt.Sprintf("player-%03d", player)
			mySaves := make([]time.Duration, 0, opts.AttemptsPerPlayer)
			myRankings := make([]time.Duration, 0, opts.AttemptsPerPlayer)
			var myTotal int64
			var mySaveErrs, myRankErrs int

			for i := 0; i < opts.AttemptsPerPlayer; i++ {
				score := rng.IntN(opts.QuestionsPerQuiz + 1)

				t0 := time.Now()
				_, err := e.Engine.SaveQuizAttempt(ctx, uid, score, opts.QuestionsPerQuiz)
				mySaves = append(mySaves, time.Since(t0))
				if err != nil {
					mySaveErrs++
					continue
				}

				t0 = time.Now()
				err = e.Engine.UpdateUserRanking(ctx, uid, int64(score))
				myRankings = append(myRankings, time.Since(t0))
				if err != nil {
					myRankErrs++
					continue
				}
				myTotal += int64(score)
			}

			mu.Lock()
			saves = append(saves, mySaves...)
			rankings = append(rankings, myRankings...)
			saveErrs += mySaveErrs
			rankErrs += myRankErrs
			expected += myTotal
			mu.Unlock()
		}(p)
	}
	wg.Wait()

	if err := e.Engine.Flush(ctx); err != nil {
		return nil, err
	}
	// Anything the queue could not push gets one more chance.
	sweep, err := e.Engine.SyncAllUnsyncedAttempts(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Save:          computeLatencyStats(saves),
		Ranking:       computeLatencyStats(rankings),
		Elapsed:       time.Since(start),
		Attempts:      len(saves) - saveErrs,
		ExpectedTotal: expected,
		Sweep:         sweep,
	}
	report.Save.Errors = saveErrs
	report.Ranking.Errors = rankErrs

	if err := e.collect(ctx, report); err != nil {
		return nil, err
	}
	return report, nil
}

func (e *Env) collect(ctx context.Context, r *Report) error {
	counts, err := e.Local.StateCounts(ctx)
	if err != nil {
		return err
	}
	r.Synced = counts[schema.SyncSynced]

	docs, err := e.Remote.QueryCollection(ctx, remote.Query{Collection: schema.HistoryCollection})
	if err != nil {
		return err
	}
	r.RemoteDocs = len(docs)

	entries, err := e.Remote.QueryCollection(ctx, remote.Query{Collection: schema.RankingCollection})
	if err != nil {
		return err
	}
	for _, d := range entries {
		r.RankingTotal += schema.RankingFromDocument(d.ID, d.Fields).TotalScore
	}
	return nil
}

// Verify checks that nothing was lost or duplicated.
func (r *Report) Verify() error {
	if r.Synced != r.Attempts {
		return fmt.Errorf("%d of %d attempts synced", r.Synced, r.Attempts)
	}
	if r.RemoteDocs != r.Attempts {
		return fmt.Errorf("remote holds %d history documents for %d attempts", r.RemoteDocs, r.Attempts)
	}
	if r.RankingTotal != r.ExpectedTotal {
		return fmt.Errorf("ranking total %d, want %d", r.RankingTotal, r.ExpectedTotal)
	}
	return nil
}

func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:        sorted[0],
		Max:        sorted[len(sorted)-1],
		Mean:       sum / time.Duration(len(durations)),
		P50:        sorted[len(sorted)*50/100],
		P95:        sorted[len(sorted)*95/100],
		P99:        sorted[len(sorted)*99/100],
		TotalCalls: len(durations),
	}
}

// Print writes the statistics under a title.
func (s *LatencyStats) Print(w io.Writer, title string) {
	fmt.Fprintf(w, "%s:\n", title)
	fmt.Fprintf(w, "  Calls:        %d\n", s.TotalCalls)
	fmt.Fprintf(w, "  Errors:       %d\n", s.Errors)
	fmt.Fprintf(w, "  Min:          %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median): %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:         %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:          %v\n", s.P95)
	fmt.Fprintf(w, "  P99:          %v\n", s.P99)
	fmt.Fprintf(w, "  Max:          %v\n", s.Max)
}

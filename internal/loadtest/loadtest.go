// Package loadtest drives many signed-in identities against one document
// store at once.
//
// Each simulated user runs its own TaskSync and performs optimistic
// creates, moves and comments while the others do the same. A run checks
// that every mirror converges on its owner's stored tasks and never sees
// another user's task.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mschirtzinger/taskboard/internal/docstore"
	"github.com/Mschirtzinger/taskboard/internal/schema"
	tbsync "github.com/Mschirtzinger/taskboard/internal/sync"
)

// ConvergeTimeout bounds the wait for mirrors to settle after a run.
const ConvergeTimeout = 10 * time.Second

// Board is a store seeded with users and their tasks.
type Board struct {
	DB           *docstore.DB
	Users        []*schema.User
	TasksPerUser int
	logger       *log.Logger
}

// LatencyStats captures mutation latency across all users.
type LatencyStats struct {
	Min        time.Duration
	Max        time.Duration
	Mean       time.Duration
	P50        time.Duration
	P95        time.Duration
	P99        time.Duration
	Operations int
	Errors     int
	Durations  []time.Duration
}

// Seed creates numUsers profiles with tasksPerUser tasks each in db.
//
// Tasks get a spread of statuses and priorities weighted toward medium,
// with staggered update times. The updatedAt index is created so the
// mirrors are served in order.
func Seed(ctx context.Context, db *docstore.DB, numUsers, tasksPerUser int, logger *log.Logger) (*Board, error) {
	if numUsers <= 0 {
		return nil, fmt.Errorf("need at least one user")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if err := db.EnsureIndex(ctx, schema.CollectionTasks, "updatedAt", true); err != nil {
		return nil, err
	}

	b := &Board{DB: db, TasksPerUser: tasksPerUser, logger: logger}
	rng := rand.New(rand.NewSource(42))
	priorities := []schema.Priority{
		schema.PriorityLow, schema.PriorityMedium, schema.PriorityMedium,
		schema.PriorityMedium, schema.PriorityHigh,
	}
	base := time.Now().Add(-30 * 24 * time.Hour)

	for i := 0; i < numUsers; i++ {
		user := &schema.User{
			ID:       uuid.NewString(),
			Email:    fmt.Sprintf("user%03d@loadtest.local", i),
			Name:     fmt.Sprintf("Load User %d", i),
			Username: fmt.Sprintf("load%03d", i),
			Role:     schema.RoleMember,
		}
		err := db.Set(ctx, schema.CollectionUsers, user.ID, docstore.Fields{
			"email":    user.Email,
			"name":     user.Name,
			"username": user.Username,
			"role":     user.Role,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create user %s: %w", user.Username, err)
		}
		b.Users = append(b.Users, user)

		for j := 0; j < tasksPerUser; j++ {
			at := base.Add(time.Duration(i*tasksPerUser+j) * time.Minute)
			task := schema.Task{
				Title:     fmt.Sprintf("Task %d of %s", j, user.Username),
				Status:    schema.Statuses[rng.Intn(len(schema.Statuses))],
				Priority:  priorities[rng.Intn(len(priorities))],
				CreatedBy: user.ID,
				CreatedAt: at,
				UpdatedAt: at,
				Comments:  []schema.Comment{},
			}
			if _, err := db.Create(ctx, schema.CollectionTasks, task); err != nil {
				return nil, fmt.Errorf("failed to insert task for %s: %w", user.Username, err)
			}
		}
	}

	logger.Printf("Seeded %d users with %d tasks each", numUsers, tasksPerUser)
	return b, nil
}

// Run has every user perform opsPerUser mutations concurrently through
// its own TaskSync: creates, moves and comments in rotation. It returns
// once every mirror has converged, or fails if one does not within
// ConvergeTimeout or shows a task it does not own.
func (b *Board) Run(ctx context.Context, opsPerUser int) (*LatencyStats, error) {
	var wg sync.WaitGroup
	resultsChan := make(chan []time.Duration, len(b.Users))
	errorsChan := make(chan error, len(b.Users)*(opsPerUser+1))

	for i, user := range b.Users {
		wg.Add(1)
		go func(n int, user *schema.User) {
			defer wg.Done()
			durations, err := b.runUser(ctx, user, opsPerUser, errorsChan)
			if err != nil {
				errorsChan <- fmt.Errorf("user %d: %w", n, err)
				return
			}
			resultsChan <- durations
		}(i, user)
	}

	wg.Wait()
	close(resultsChan)
	close(errorsChan)

	var all []time.Duration
	for d := range resultsChan {
		all = append(all, d...)
	}

	var errs []error
	for err := range errorsChan {
		b.logger.Printf("Error: %v", err)
		errs = append(errs, err)
	}
	if len(all) == 0 {
		if len(errs) > 0 {
			return nil, errs[0]
		}
		return nil, fmt.Errorf("no mutations completed")
	}

	stats := computeLatencyStats(all)
	stats.Errors = len(errs)
	return stats, nil
}

// runUser performs one user's mutations and waits for its mirror to
// converge. Per-mutation failures go to errs; fatal ones are returned.
func (b *Board) runUser(ctx context.Context, user *schema.User, ops int, errs chan<- error) ([]time.Duration, error) {
	scope, err := tbsync.NewScope(user)
	if err != nil {
		return nil, err
	}
	tasks, err := tbsync.NewTaskSync(b.DB, scope, b.logger)
	if err != nil {
		return nil, err
	}
	defer tasks.Close()

	readyCtx, cancel := context.WithTimeout(ctx, ConvergeTimeout)
	defer cancel()
	if err := tasks.WaitReady(readyCtx); err != nil {
		return nil, err
	}

	durations := make([]time.Duration, 0, ops)
	created := 0
	for j := 0; j < ops; j++ {
		target, ok := firstStored(tasks.List())
		start := time.Now()

		switch {
		case j%3 == 0 || !ok:
			_, err = tasks.Create(ctx, schema.Task{Title: fmt.Sprintf("Load %s #%d", user.Username, j)})
			if err == nil {
				created++
			}
		case j%3 == 1:
			err = tasks.Move(ctx, target.ID, schema.Statuses[j%len(schema.Statuses)])
		default:
			err = tasks.AddComment(ctx, target.ID, fmt.Sprintf("comment %d", j))
		}

		durations = append(durations, time.Since(start))
		if err != nil {
			errs <- fmt.Errorf("%s op %d: %w", user.Username, j, err)
		}
	}

	want := b.TasksPerUser + created
	if err := waitConverged(ctx, tasks, user.ID, want); err != nil {
		return durations, fmt.Errorf("%s: %w", user.Username, err)
	}
	return durations, nil
}

// firstStored returns the first mirrored task that is not temporary.
func firstStored(tasks []schema.Task) (schema.Task, bool) {
	for _, t := range tasks {
		if !t.IsTemporary() {
			return t, true
		}
	}
	return schema.Task{}, false
}

// waitConverged polls the mirror until it holds want stored tasks, all
// owned by owner.
func waitConverged(ctx context.Context, tasks *tbsync.TaskSync, owner string, want int) error {
	deadline := time.Now().Add(ConvergeTimeout)
	for {
		list := tasks.List()
		stored := 0
		for _, t := range list {
			if t.CreatedBy != owner {
				return fmt.Errorf("mirror holds task %s of %s", t.ID, t.CreatedBy)
			}
			if !t.IsTemporary() {
				stored++
			}
		}
		if stored == want && len(list) == want {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("mirror did not converge: %d of %d tasks stored, %d listed", stored, want, len(list))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// computeLatencyStats calculates statistics from a slice of durations.
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
		Operations: len(durations),
		Durations:  sorted,
	}
}

// Print writes the statistics to w.
func (s *LatencyStats) Print(w io.Writer) {
	fmt.Fprintf(w, "Mutation Latency:\n")
	fmt.Fprintf(w, "  Operations:    %d\n", s.Operations)
	fmt.Fprintf(w, "  Errors:        %d\n", s.Errors)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}

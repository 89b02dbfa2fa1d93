package tasks

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/syedsabbir-git/ClassSync-sub001/internal/metrics"
	"github.com/syedsabbir-git/ClassSync-sub001/internal/model"
)

// ErrNoEligibleGroups is returned when aggregation is asked for zero groups.
// It is distinct from an empty result over one or more groups.
var ErrNoEligibleGroups = errors.New("no eligible groups")

// DefaultConcurrency bounds the number of group fetches in flight.
const DefaultConcurrency = 8

// Provider returns the raw task records of one group.
type Provider interface {
	GetTasksForGroup(ctx context.Context, groupID string) ([]model.RawTask, error)
}

// Result is the merged upcoming task list plus the groups that could not be fetched.
type Result struct {
	Tasks    []model.Task          `json:"tasks"`
	Failures []model.SourceFailure `json:"failures"`
}

// Aggregator merges upcoming tasks across groups.
type Aggregator struct {
	provider    Provider
	concurrency int
}

// New creates an aggregator over provider.
func New(provider Provider) *Aggregator {
	return &Aggregator{provider: provider, concurrency: DefaultConcurrency}
}

// WithConcurrency sets how many groups are fetched at once. n < 1 means one.
func (a *Aggregator) WithConcurrency(n int) *Aggregator {
	a.concurrency = max(n, 1)
	return a
}

// Aggregate fetches every group concurrently and returns the tasks due
// strictly after now, ascending by due time. A failing group is logged and
// reported in Result.Failures; it never fails the whole call.
func (a *Aggregator) Aggregate(ctx context.Context, groupIDs []string, now time.Time) (Result, error) {
	if len(groupIDs) == 0 {
		return Result{Tasks: []model.Task{}}, ErrNoEligibleGroups
	}

	perGroup := make([][]model.Task, len(groupIDs))
	failed := make([]error, len(groupIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, groupID := range groupIDs {
		g.Go(func() error {
			raw, err := a.provider.GetTasksForGroup(gctx, groupID)
			if err != nil {
				slog.Warn("task source failed, skipping group", "group_id", groupID, "error", err)
				metrics.SourceFailures.Inc()
				failed[i] = err
				return nil
			}
			perGroup[i] = upcoming(groupID, raw, now)
			return nil
		})
	}
	// Workers never return an error.
	_ = g.Wait()

	res := Result{Tasks: []model.Task{}}
	for i, groupID := range groupIDs {
		if failed[i] != nil {
			res.Failures = append(res.Failures, model.SourceFailure{GroupID: groupID, Error: failed[i].Error()})
			continue
		}
		res.Tasks = append(res.Tasks, perGroup[i]...)
	}
	slices.SortStableFunc(res.Tasks, func(x, y model.Task) int {
		return x.DueAt.Compare(y.DueAt)
	})
	return res, ctx.Err()
}

func upcoming(groupID string, raw []model.RawTask, now time.Time) []model.Task {
	var out []model.Task
	for _, r := range raw {
		r.GroupID = cmp.Or(r.GroupID, groupID)
		task, err := FromRaw(r, now)
		if err != nil {
			slog.Warn("skipping task with unreadable due date", "group_id", groupID, "task_id", r.ID, "error", err)
			continue
		}
		if !task.DueAt.After(now) {
			continue
		}
		out = append(out, task)
	}
	return out
}

// FromRaw converts a provider record into a Task, deriving DaysLeft from now.
// It does not filter out past tasks; their DaysLeft is zero.
func FromRaw(r model.RawTask, now time.Time) (model.Task, error) {
	due, err := parseDue(r.Due)
	if err != nil {
		return model.Task{}, err
	}
	return model.Task{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		DueAt:       due,
		GroupID:     r.GroupID,
		DaysLeft:    daysLeft(due, now),
	}, nil
}

// Package wait polls CFS components until their configuration state
// converges.
//
// After a configuration change, affected components are reconfigured
// asynchronously by CFS. The waiter polls the components' configuration
// status at a fixed interval and reports, per component, whether
// configuration succeeded, failed, or could not be observed.
package wait

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jedib0t/go-pretty/v6/table"
	"golang.org/x/sync/errgroup"

	"cfsutil/internal/cfs"
	"cfsutil/pkg/logging"
)

const subsystem = "Wait"

// queryConcurrency bounds the number of in-flight component queries per
// polling round.
const queryConcurrency = 10

// ComponentGetter is the slice of the CFS client the waiter needs.
type ComponentGetter interface {
	GetComponent(ctx context.Context, id string) (cfs.Component, error)
}

// Summary is the final disposition of every waited-on component.
type Summary struct {
	// Configured components reached the configured status.
	Configured []string
	// Failed components reached the failed status.
	Failed []string
	// Disabled components were dropped because CFS will not configure a
	// disabled component.
	Disabled []string
	// QueryFailed components were dropped because their status could not be
	// fetched.
	QueryFailed []string
	// Pending components had not converged when waiting stopped.
	Pending []string
}

// Success reports whether every component was configured.
func (s *Summary) Success() bool {
	return len(s.Failed) == 0 && len(s.Disabled) == 0 && len(s.QueryFailed) == 0 && len(s.Pending) == 0
}

// Table renders the summary as a text table, one row per outcome.
func (s *Summary) Table() string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Outcome", "Count", "Components"})
	for _, row := range []struct {
		outcome    string
		components []string
	}{
		{"configured", s.Configured},
		{"failed", s.Failed},
		{"disabled", s.Disabled},
		{"query failed", s.QueryFailed},
		{"pending", s.Pending},
	} {
		if len(row.components) == 0 {
			continue
		}
		t.AppendRow(table.Row{row.outcome, len(row.components), joinSorted(row.components)})
	}
	t.SetStyle(table.StyleLight)
	return t.Render()
}

func joinSorted(components []string) string {
	sorted := append([]string(nil), components...)
	sort.Strings(sorted)
	joined := ""
	for i, component := range sorted {
		if i > 0 {
			joined += ", "
		}
		joined += component
	}
	return joined
}

// Waiter polls a set of components until each one has converged or been
// excluded.
type Waiter struct {
	client   ComponentGetter
	interval time.Duration

	mu          sync.Mutex
	pending     map[string]struct{}
	configured  []string
	failed      []string
	disabled    []string
	queryFailed []string
}

// NewWaiter creates a waiter polling at the given interval.
func NewWaiter(client ComponentGetter, interval time.Duration) *Waiter {
	return &Waiter{client: client, interval: interval}
}

// Wait polls until every component in ids is configured, failed, or excluded,
// or until ctx is done. The summary is returned even on error so callers can
// report partial progress.
func (w *Waiter) Wait(ctx context.Context, ids []string) (*Summary, error) {
	w.pending = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		w.pending[id] = struct{}{}
	}
	if len(w.pending) == 0 {
		return w.summary(), nil
	}

	logging.Info(subsystem, "Waiting for %d components to reach the configured state", len(w.pending))

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		w.pollRound(ctx)

		w.mu.Lock()
		remaining := len(w.pending)
		w.mu.Unlock()
		if remaining == 0 {
			return struct{}{}, nil
		}

		logging.Info(subsystem, "Still waiting for %d components", remaining)
		return struct{}{}, fmt.Errorf("%d components still pending", remaining)
	}, backoff.WithBackOff(backoff.NewConstantBackOff(w.interval)), backoff.WithMaxElapsedTime(0))

	if err != nil {
		return w.summary(), fmt.Errorf("stopped waiting for components: %w", err)
	}
	return w.summary(), nil
}

// pollRound queries every pending component once and classifies the results.
// Query failures exclude the component rather than aborting the round.
func (w *Waiter) pollRound(ctx context.Context) {
	w.mu.Lock()
	ids := make([]string, 0, len(w.pending))
	for id := range w.pending {
		ids = append(ids, id)
	}
	w.mu.Unlock()
	sort.Strings(ids)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(queryConcurrency)
	for _, id := range ids {
		group.Go(func() error {
			component, err := w.client.GetComponent(groupCtx, id)
			w.classify(id, component, err)
			return nil
		})
	}
	group.Wait()
}

func (w *Waiter) classify(id string, component cfs.Component, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch {
	case err != nil:
		logging.Warn(subsystem, "Failed to query status of component %s: %v", id, err)
		w.queryFailed = append(w.queryFailed, id)
	case !component.Enabled:
		logging.Warn(subsystem, "Component %s is disabled and will not be configured", id)
		w.disabled = append(w.disabled, id)
	case component.ConfigurationStatus == "configured":
		logging.Info(subsystem, "Component %s reached the configured state", id)
		w.configured = append(w.configured, id)
	case component.ConfigurationStatus == "failed":
		logging.Warn(subsystem, "Configuration of component %s failed after %d errors", id, component.ErrorCount)
		w.failed = append(w.failed, id)
	default:
		return
	}
	delete(w.pending, id)
}

func (w *Waiter) summary() *Summary {
	w.mu.Lock()
	defer w.mu.Unlock()

	pending := make([]string, 0, len(w.pending))
	for id := range w.pending {
		pending = append(pending, id)
	}
	sort.Strings(pending)
	sort.Strings(w.configured)
	sort.Strings(w.failed)
	sort.Strings(w.disabled)
	sort.Strings(w.queryFailed)

	return &Summary{
		Configured:  append([]string(nil), w.configured...),
		Failed:      append([]string(nil), w.failed...),
		Disabled:    append([]string(nil), w.disabled...),
		QueryFailed: append([]string(nil), w.queryFailed...),
		Pending:     pending,
	}
}

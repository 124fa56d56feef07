package toolexecutor

import (
	"context"

	"github.com/kskip310/luminous/pkg/state"
	"golang.org/x/sync/errgroup"
)

// ExecuteBatch runs calls and returns once all have finished. Results keep
// call order.
//
// Calls to tools that do not mutate state run concurrently against their own
// copy of snapshot. Calls to mutating tools run one after another in call
// order, each against snapshot with the patches of the earlier mutating
// calls applied, so FoldPatches over the results loses no update.
func (e *Executor) ExecuteBatch(ctx context.Context, identity string, calls []Call, snapshot state.AgentState) []Result {
	results := make([]Result, len(calls))
	if len(calls) == 0 {
		return results
	}

	var sequential []int
	var g errgroup.Group
	if e.maxParallel > 0 {
		g.SetLimit(e.maxParallel)
	}
	for i, call := range calls {
		if e.mutates(call.Name) {
			sequential = append(sequential, i)
			continue
		}
		g.Go(func() error {
			results[i] = e.Execute(ctx, identity, call, snapshot)
			return nil
		})
	}
	if len(sequential) > 0 {
		g.Go(func() error {
			current := snapshot
			for _, i := range sequential {
				results[i] = e.Execute(ctx, identity, calls[i], current)
				if results[i].Error != nil || len(results[i].Patch) == 0 {
					continue
				}
				next, _, err := state.Apply(current, results[i].Patch)
				if err != nil {
					results[i] = Result{
						CallID:   results[i].CallID,
						Name:     results[i].Name,
						Duration: results[i].Duration,
						Error: &ToolError{
							Code:        CodeExecutionFailed,
							Message:     "tool returned an unusable state patch",
							Details:     err.Error(),
							RequestArgs: calls[i].Args,
						},
					}
					continue
				}
				current = next
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (e *Executor) mutates(name string) bool {
	def := e.Get(name)
	return def != nil && def.Mutates
}

// FoldPatches merges result patches in call order into one patch. Failed
// results never carry patches.
func FoldPatches(results []Result) state.Patch {
	patches := make([]state.Patch, 0, len(results))
	for _, r := range results {
		if r.Error == nil && len(r.Patch) > 0 {
			patches = append(patches, r.Patch)
		}
	}
	return state.Fold(patches...)
}

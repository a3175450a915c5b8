// Package runner provides executors for assembled pipeline plans.
//
// A runner walks a plan's prerequisite tree depth-first, hands each finished
// prerequisite report back to its dependent, and then executes the plan's own
// units. Linear does it all on the calling goroutine; Pool fans units out
// over a bounded number of workers.
package runner

import (
	"context"

	"github.com/nialab/neuropipe/pkg/domain"
)

// Linear runs every prerequisite and every unit sequentially, in plan order.
// Useful for debugging and for archives that do not tolerate concurrent
// writers.
type Linear struct{}

var _ domain.Runner = Linear{}

func New() Linear {
	return Linear{}
}

func (r Linear) Run(ctx context.Context, pl *domain.Plan) (*domain.Report, error) {
	for _, pre := range pl.Prerequisites() {
		rep, err := r.Run(ctx, pre)
		if err != nil {
			return nil, err
		}
		pl.AttachPrerequisiteReport(rep)
	}
	for _, u := range pl.Units() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := pl.RunUnit(ctx, u); err != nil {
			return nil, err
		}
	}
	return pl.Finish(), nil
}

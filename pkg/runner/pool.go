package runner

import (
	"context"
	"fmt"
	"sync"

	"github.com/nialab/neuropipe/pkg/domain"
)

// Pool executes units over at most Width concurrent workers. Prerequisites
// still run strictly before the plan that needs them; only units of a single
// plan are parallelized, so archive writes for different scopes never race
// across pipelines.
type Pool struct {
	// Width is the number of units in flight at once. Zero or negative
	// means 1, which makes Pool behave like Linear.
	Width int
}

var _ domain.Runner = Pool{}

func NewPool(width int) Pool {
	return Pool{Width: width}
}

func (r Pool) Run(ctx context.Context, pl *domain.Plan) (*domain.Report, error) {
	for _, pre := range pl.Prerequisites() {
		rep, err := r.Run(ctx, pre)
		if err != nil {
			return nil, err
		}
		pl.AttachPrerequisiteReport(rep)
	}

	width := r.Width
	if width < 1 {
		width = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan struct{}, width)
	errCh := make(chan error, 1)
	wg := sync.WaitGroup{}

UNITS:
	for _, u := range pl.Units() {
		select {
		case <-ctx.Done():
			break UNITS
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(u domain.Unit) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := pl.RunUnit(ctx, u); err != nil {
				select {
				case errCh <- err:
					cancel() // first error wins, stop admitting units
				default:
				}
			}
		}(u)
	}
	wg.Wait()

	select {
	case err := <-errCh:
		return nil, fmt.Errorf("run aborted: %w", err)
	default:
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return pl.Finish(), nil
}

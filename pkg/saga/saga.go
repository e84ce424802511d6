package saga

import (
	"context"
	"fmt"
)

// Step is a single action in a multi-call sequence against an external
// system, with an optional compensation to undo it if a later step fails.
type Step struct {
	Name         string
	Action       func(ctx context.Context) error
	Compensation func(ctx context.Context) error
}

// Orchestrator executes steps in order and compensates completed steps
// in reverse order when a step fails. It holds no state between runs.
type Orchestrator struct {
	steps []Step
}

func NewOrchestrator() *Orchestrator {
	return &Orchestrator{}
}

func (o *Orchestrator) AddStep(step Step) {
	o.steps = append(o.steps, step)
}

// Execute runs every step. On failure it runs the compensations of the
// already-completed steps in reverse order; if a compensation itself
// fails, both errors are reported.
func (o *Orchestrator) Execute(ctx context.Context) error {
	var completed []Step

	for _, step := range o.steps {
		select {
		case <-ctx.Done():
			if err := compensate(ctx, completed); err != nil {
				return fmt.Errorf("cancelled: %w, compensation also failed: %v", ctx.Err(), err)
			}
			return ctx.Err()
		default:
		}

		if err := step.Action(ctx); err != nil {
			if compErr := compensate(ctx, completed); compErr != nil {
				return fmt.Errorf("step %q failed: %w, compensation also failed: %v",
					step.Name, err, compErr)
			}
			return fmt.Errorf("step %q failed: %w", step.Name, err)
		}

		completed = append(completed, step)
	}

	return nil
}

func compensate(ctx context.Context, completed []Step) error {
	var errs []error

	for i := len(completed) - 1; i >= 0; i-- {
		step := completed[i]
		if step.Compensation == nil {
			continue
		}
		if err := step.Compensation(ctx); err != nil {
			errs = append(errs, fmt.Errorf("compensation for step %q failed: %w", step.Name, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("compensation errors: %v", errs)
	}
	return nil
}

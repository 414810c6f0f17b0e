package imaging

import (
	"errors"
	"fmt"
)

// Chain is a compiled processor list. The step order matches the spec list:
// the first step acts on the freshly opened image, each later step acts on
// the output of the steps before it. Compilation resolves names and
// validates arguments up front, so configuration mistakes surface before
// any pixel work happens.
type Chain struct {
	steps []chainStep
}

type chainStep struct {
	name string
	run  Processor
}

// StepError wraps a failure inside a chain with the name of the processor
// that raised it.
type StepError struct {
	Processor string
	Err       error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("processor %s: %v", e.Processor, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Compile resolves a spec list against the registry. The "default" macro
// expands in place to its constituents.
func (r *Registry) Compile(specs []Spec) (*Chain, error) {
	chain := &Chain{}
	for _, spec := range specs {
		if spec.Name == Default {
			for _, name := range defaultConstituents {
				if err := chain.add(r, Spec{Name: name}); err != nil {
					return nil, err
				}
			}
			continue
		}
		if err := chain.add(r, spec); err != nil {
			return nil, err
		}
	}
	return chain, nil
}

func (c *Chain) add(r *Registry, spec Spec) error {
	factory, err := r.Resolve(spec.Name)
	if err != nil {
		return err
	}
	proc, err := factory(spec.Args)
	if err != nil {
		return fmt.Errorf("processor %q: %w", spec.Name, err)
	}
	c.steps = append(c.steps, chainStep{name: spec.Name, run: proc})
	return nil
}

func (c *Chain) Len() int { return len(c.steps) }

// Run executes the chain on img. An empty chain returns img unchanged.
// Execution drives the last step with a continuation covering all earlier
// steps, so a step that never calls its continuation short-circuits the
// rest of the chain.
func (c *Chain) Run(img Image, pc *Context) (Image, error) {
	return c.apply(len(c.steps), img, pc)
}

// apply runs the first n steps.
func (c *Chain) apply(n int, img Image, pc *Context) (Image, error) {
	if n == 0 {
		return img, nil
	}
	step := c.steps[n-1]
	next := func(img Image, pc *Context) (Image, error) {
		return c.apply(n-1, img, pc)
	}
	out, err := step.run(next, img, pc)
	if err != nil {
		var stepErr *StepError
		if errors.As(err, &stepErr) {
			return nil, err
		}
		return nil, &StepError{Processor: step.name, Err: err}
	}
	return out, nil
}

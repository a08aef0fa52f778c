package optimizer

import (
	"fmt"

	"github.com/mmarchjr/MLtune/internal/domain/model"
)

// Sequencer walks the coefficient list in declaration order, one
// coefficient tuned at a time. Completed coefficients keep their
// histories so a later backtrack can report what was tried before the
// restart.
type Sequencer struct {
	optimizers []*CoefficientOptimizer
	index      int
	complete   bool
}

// NewSequencer builds one optimizer per coefficient using the supplied
// factory. The specs slice must be non-empty and already validated.
func NewSequencer(specs []model.CoefficientSpec, factory func(model.CoefficientSpec) *CoefficientOptimizer) *Sequencer {
	opts := make([]*CoefficientOptimizer, len(specs))
	for i, spec := range specs {
		opts[i] = factory(spec)
	}
	return &Sequencer{optimizers: opts}
}

// Current returns the optimizer being worked on, or nil once every
// coefficient is done.
func (s *Sequencer) Current() *CoefficientOptimizer {
	if s.complete {
		return nil
	}
	return s.optimizers[s.index]
}

// Advance moves to the next coefficient. It returns false when the
// sequence is exhausted, after which the sequencer is complete.
func (s *Sequencer) Advance() bool {
	if s.complete {
		return false
	}
	if s.index+1 >= len(s.optimizers) {
		s.complete = true
		return false
	}
	s.index++
	return true
}

// Backtrack jumps to the named coefficient and restarts its optimizer
// from scratch. An empty name targets the current coefficient. Jumping
// backward reopens a completed sequence.
func (s *Sequencer) Backtrack(name string) error {
	target := s.index
	if s.complete {
		target = len(s.optimizers) - 1
	}
	if name != "" {
		found := -1
		for i, o := range s.optimizers {
			if o.Spec().Name == name {
				found = i
				break
			}
		}
		if found < 0 {
			return fmt.Errorf("unknown coefficient %q", name)
		}
		target = found
	}
	s.optimizers[target].Reset()
	s.index = target
	s.complete = false
	return nil
}

// Complete reports whether every coefficient has been advanced past.
func (s *Sequencer) Complete() bool { return s.complete }

// Position returns the zero-based index of the active coefficient and
// the total count.
func (s *Sequencer) Position() (int, int) {
	return s.index, len(s.optimizers)
}

// Names lists the coefficients in tuning order.
func (s *Sequencer) Names() []string {
	names := make([]string, len(s.optimizers))
	for i, o := range s.optimizers {
		names[i] = o.Spec().Name
	}
	return names
}

// ByName returns the optimizer for a coefficient, if it exists.
func (s *Sequencer) ByName(name string) (*CoefficientOptimizer, bool) {
	for _, o := range s.optimizers {
		if o.Spec().Name == name {
			return o, true
		}
	}
	return nil, false
}

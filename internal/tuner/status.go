package tuner

import (
	"github.com/mmarchjr/MLtune/internal/domain/model"
)

// Status is a read-only snapshot of the coordinator for the admin
// surface and dashboards. It is a copy; holding it never blocks a tick.
type Status struct {
	Mode     model.Mode `json:"mode"`
	Complete bool       `json:"complete"`

	ActiveCoefficient string  `json:"active_coefficient"`
	ActiveValue       float64 `json:"active_value"`
	CoefficientIndex  int     `json:"coefficient_index"`
	CoefficientCount  int     `json:"coefficient_count"`

	PendingSamples int `json:"pending_samples"`
	Observations   int `json:"observations"`

	BestValue float64 `json:"best_value"`
	BestScore float64 `json:"best_score"`

	OperatorEnabled bool `json:"operator_enabled"`
	MatchMode       bool `json:"match_mode"`
	ShotThreshold   int  `json:"shot_threshold"`

	LastError string `json:"last_error,omitempty"`
}

// Status returns the current coordinator snapshot. Safe for concurrent
// use.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	index, count := c.seq.Position()
	s := Status{
		Mode:             c.mode,
		Complete:         c.complete,
		CoefficientIndex: index,
		CoefficientCount: count,
		PendingSamples:   len(c.pending),
		OperatorEnabled:  c.operatorEnabled,
		MatchMode:        c.matchMode,
		ShotThreshold:    c.shotThreshold,
		LastError:        c.lastError,
	}
	if active := c.seq.Current(); active != nil {
		name := active.Spec().Name
		s.ActiveCoefficient = name
		s.ActiveValue = c.activeValue[name]
		s.Observations = len(active.Observations())
		if best, ok := active.Best(); ok {
			s.BestValue = best.Value
			s.BestScore = best.Score
		}
	}
	return s
}

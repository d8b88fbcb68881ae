// Package schedule decays the optimizer learning rate over training.
package schedule

import "fmt"

// Linear returns the learning rate for epoch out of total, decaying from
// initial to zero.
func Linear(initial float64, epoch, total int) float64 {
	if total <= 0 {
		return initial
	}
	return initial - initial*float64(epoch)/float64(total)
}

// ParamGroup is one optimizer parameter group.
type ParamGroup struct {
	Name string
	LR   float64
}

// ParamGroups are the groups of one optimizer.
type ParamGroups []ParamGroup

// SetLR sets the learning rate of every group.
func (g ParamGroups) SetLR(lr float64) {
	for i := range g {
		g[i].LR = lr
	}
}

// UpdateLinear applies Linear to every group and returns the new rate.
func (g ParamGroups) UpdateLinear(initial float64, epoch, total int) (float64, error) {
	if epoch < 0 || (total > 0 && epoch > total) {
		return 0, fmt.Errorf("schedule: epoch %d outside [0, %d]", epoch, total)
	}
	lr := Linear(initial, epoch, total)
	g.SetLR(lr)
	return lr, nil
}

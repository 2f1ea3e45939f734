package training

import (
	"github.com/privtrain/privtrain/internal/core/models"
)

// StepExecutor applies single training steps to a network. It is the only
// writer of the network's parameters while a window is running, and it
// counts its own invocations so drivers can assert one step per yielded
// batch.
type StepExecutor struct {
	net          *Network
	learningRate float64
	steps        int
}

func NewStepExecutor(net *Network, learningRate float64) *StepExecutor {
	return &StepExecutor{net: net, learningRate: learningRate}
}

// Step runs forward, loss, backward and one optimizer step on the batch,
// mutating the network in place. Failures from the numeric layer are
// propagated, never swallowed: a step that cannot compute a gradient must
// abort the run.
func (e *StepExecutor) Step(batch *models.Batch) (float64, int, error) {
	e.steps++
	return e.net.TrainBatch(batch, e.learningRate)
}

// Steps reports how many times Step has been invoked.
func (e *StepExecutor) Steps() int {
	return e.steps
}

// Network exposes the executor's network for snapshotting.
func (e *StepExecutor) Network() *Network {
	return e.net
}

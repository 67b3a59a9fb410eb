package tracker

import "github.com/kiranshivaraju/sourcefinder/pkg/models"

// Metrics receives tracker events. Implementations must be safe for
// concurrent use and must not call back into the tracker.
type Metrics interface {
	JobSubmitted()
	JobSuperseded()
	JobFinished(phase models.Phase, elapsedTicks int)
	Tick()
	// PollError counts a failed gateway call: "submit", "status" or "result".
	PollError(call string)
	// DeliveryDiscarded counts outcomes that arrived after their job was
	// resolved or replaced.
	DeliveryDiscarded(source string)
}

type noopMetrics struct{}

func (noopMetrics) JobSubmitted() {}
func (noopMetrics) JobSuperseded() {}
func (noopMetrics) JobFinished(models.Phase, int) {}
func (noopMetrics) Tick() {}
func (noopMetrics) PollError(string) {}
func (noopMetrics) DeliveryDiscarded(string) {}

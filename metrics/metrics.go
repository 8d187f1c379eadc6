package metrics

import "time"

type JobMetrics interface {
	JobsClaimed(n int)
	JobCompleted(queue string)
	JobRetried(queue string)
	JobFailed(queue string)
	HandleLatency(queue string, d time.Duration)
}

type DeliveryMetrics interface {
	Delivered(kind string)
	DeliveryFailed(kind string)
}

// Nop discards all observations.
type Nop struct{}

func (Nop) JobsClaimed(int)                     {}
func (Nop) JobCompleted(string)                 {}
func (Nop) JobRetried(string)                   {}
func (Nop) JobFailed(string)                    {}
func (Nop) HandleLatency(string, time.Duration) {}
func (Nop) Delivered(string)                    {}
func (Nop) DeliveryFailed(string)               {}

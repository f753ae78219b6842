package progress

import (
	"time"

	"mirrorhub/pkg/models"
)

const speedWindow = 10

// Estimator derives transfer speed and ETA from the byte counts reported by
// an engine, smoothing speed over a sliding window of recent samples. An
// estimator belongs to a single task runner and is not safe for concurrent
// use.
type Estimator struct {
	lastBytes int64
	lastAt    time.Time
	speeds    []float64
}

// NewEstimator creates an estimator anchored at now.
func NewEstimator() *Estimator {
	return &Estimator{
		lastAt: time.Now(),
		speeds: make([]float64, 0, speedWindow),
	}
}

// Observe folds a new byte count into the window and returns the advisory
// progress to store on the task record. total is nil when the source does
// not report a size.
func (e *Estimator) Observe(transferred int64, total *int64) models.Progress {
	if total != nil && transferred > *total {
		transferred = *total
	}
	now := time.Now()
	elapsed := now.Sub(e.lastAt).Seconds()
	delta := transferred - e.lastBytes

	if elapsed > 0 && delta > 0 {
		speed := float64(delta) / elapsed
		e.speeds = append(e.speeds, speed)
		if len(e.speeds) > speedWindow {
			e.speeds = e.speeds[1:]
		}
	}
	e.lastBytes = transferred
	e.lastAt = now

	p := models.Progress{
		TransferredBytes: transferred,
		SpeedBps:         e.avgSpeed(),
	}
	if total != nil {
		t := *total
		p.TotalBytes = &t
		if p.SpeedBps > 0 && t > transferred {
			etaSeconds := float64(t-transferred) / p.SpeedBps
			p.ETA = time.Duration(etaSeconds * float64(time.Second)).Round(time.Second).String()
		}
	}
	return p
}

// Reset clears the window, e.g. when a pipeline moves to its next stage.
func (e *Estimator) Reset() {
	e.lastBytes = 0
	e.lastAt = time.Now()
	e.speeds = e.speeds[:0]
}

func (e *Estimator) avgSpeed() float64 {
	if len(e.speeds) == 0 {
		return 0
	}
	var sum float64
	for _, s := range e.speeds {
		sum += s
	}
	return sum / float64(len(e.speeds))
}

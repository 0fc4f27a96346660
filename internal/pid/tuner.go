package pid

import "math"

const (
	DefaultTuneRate       = 0.01
	DefaultErrorThreshold = 0.05

	// Consecutive error sign flips tolerated before the tuner backs off.
	oscillationLimit = 3
)

type TunerParams struct {
	TuneRate       float64
	ErrorThreshold float64
}

func NewTunerParams() TunerParams {
	return TunerParams{
		TuneRate:       DefaultTuneRate,
		ErrorThreshold: DefaultErrorThreshold,
	}
}

// AdaptiveTuner nudges a controller's gains from live error trends. It wraps
// the controller rather than extending it: the control law itself stays free
// of tuning policy, and the tuner runs one pass per control step through the
// public gain accessors.
type AdaptiveTuner struct {
	ctrl   *Controller
	params TunerParams

	prevErrorSign      float64
	hasPrevSign        bool
	oscillationCounter int
}

func NewAdaptiveTuner(ctrl *Controller, params TunerParams) *AdaptiveTuner {
	return &AdaptiveTuner{
		ctrl:   ctrl,
		params: params,
	}
}

// Observe runs one tuning pass. Call it after each Compute, with the same
// measured and target values. The heuristics carry no stability guarantee:
// sustained error raises Kp, repeated oscillation backs Kp off and raises Kd,
// small steady error nudges Ki up.
func (at *AdaptiveTuner) Observe(currentValue, targetValue float64) {
	err := targetValue - currentValue

	sign := math.Copysign(1, err)
	if at.hasPrevSign && sign != at.prevErrorSign {
		at.oscillationCounter++
	}
	at.prevErrorSign = sign
	at.hasPrevSign = true

	kp, ki, kd := at.ctrl.Gains()

	if math.Abs(err) > at.params.ErrorThreshold {
		// Sluggish response
		kp += at.params.TuneRate * math.Abs(err)
	} else if at.oscillationCounter > oscillationLimit {
		kp *= 0.95
		kd += at.params.TuneRate * 0.1
		at.oscillationCounter = 0
	}

	if math.Abs(err) < at.params.ErrorThreshold {
		ki += at.params.TuneRate * 0.001
	}

	at.ctrl.SetGains(kp, ki, kd)
}

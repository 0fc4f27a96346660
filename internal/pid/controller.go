// Package pid implements the control law used by the loop service: a
// proportional-integral-derivative controller with derivative low-pass
// filtering, output clamping, anti-windup and slew-rate limiting.
package pid

import "math"

const (
	DefaultTau             = 0.02 // Higher tau = more smoothing, less noise, slower response
	DefaultResetDelta      = 1.0
	DefaultBackCalculation = 0.90

	// Substituted for dt when a caller reports a zero or negative time step.
	// Real-time loops occasionally do this on clock quantization; failing
	// here would take down a live loop over a transient glitch.
	epsilonDt = 1e-6

	derivativeLimitRatio = 0.2
)

type Params struct {
	Kp float64
	Ki float64
	Kd float64

	// Output limits
	MinOutput float64
	MaxOutput float64

	// Derivative filter time constant (seconds). Zero disables filtering.
	Tau float64

	// Setpoint jump beyond which the accumulated integral is halved.
	ResetDelta float64

	// Anti-windup back-calculation coefficient. Recommended range [0, 1];
	// values outside it are accepted (the config layer warns instead).
	BackCalculation float64

	// Optional limit overrides. Zero means derived: the derivative term
	// is clamped to [0.2*MinOutput, 0.2*MaxOutput] and the output may
	// move at most MaxOutput-MinOutput per unit time.
	DerivativeMax float64
	MaxOutputRate float64
}

// NewParams returns Params with the given gains and output limits and the
// default filter, reset and back-calculation settings.
func NewParams(kp, ki, kd, minOutput, maxOutput float64) Params {
	return Params{
		Kp:              kp,
		Ki:              ki,
		Kd:              kd,
		MinOutput:       minOutput,
		MaxOutput:       maxOutput,
		Tau:             DefaultTau,
		ResetDelta:      DefaultResetDelta,
		BackCalculation: DefaultBackCalculation,
	}
}

func (params *Params) Validate() error {
	if params.MinOutput > params.MaxOutput {
		return ErrInvalidOutputRange
	}
	if params.Tau < 0 {
		return ErrNegativeFilterTimeConstant
	}
	if params.ResetDelta < 0 {
		return ErrNegativeIntegratorResetDelta
	}
	if params.DerivativeMax < 0 {
		return ErrNegativeDerivativeLimit
	}
	if params.MaxOutputRate < 0 {
		return ErrNegativeOutputRate
	}
	return nil
}

// Controller is a pure sequential state machine: Compute mutates internal
// state with no atomicity guarantees, so concurrent callers must serialize
// access themselves.
type Controller struct {
	params Params

	// Limits derived from the output range.
	minDerivative float64
	maxDerivative float64
	maxOutputRate float64 // max |output change| per unit time

	// Cross-call state
	lastError      float64
	lastValue      float64
	lastTarget     float64
	lastOutput     float64
	lastDerivative float64 // filtered, pre-clamp, for filter continuity
	integral       float64
	clamped        bool // previous output saturated in the direction of the error
}

func New(params Params) (*Controller, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	c := &Controller{
		params:        params,
		minDerivative: derivativeLimitRatio * params.MinOutput,
		maxDerivative: derivativeLimitRatio * params.MaxOutput,
		maxOutputRate: params.MaxOutput - params.MinOutput,
	}
	if params.DerivativeMax > 0 {
		c.minDerivative = -params.DerivativeMax
		c.maxDerivative = params.DerivativeMax
	}
	if params.MaxOutputRate > 0 {
		c.maxOutputRate = params.MaxOutputRate
	}
	return c, nil
}

// Compute advances the loop by one step and returns a command within
// [MinOutput, MaxOutput]. dt is the elapsed time since the previous call;
// zero or negative values are substituted with a small positive epsilon.
func (c *Controller) Compute(currentValue, targetValue, dt float64) float64 {
	if dt <= 0 {
		dt = epsilonDt
	}

	err := targetValue - currentValue

	pTerm := c.params.Kp * err

	// A large setpoint jump halves the accumulated integral rather than
	// zeroing it, so the output does not step discontinuously.
	if math.Abs(c.lastTarget-targetValue) > c.params.ResetDelta {
		c.integral *= 0.5
	}

	// Elementary anti-windup: the integrator is frozen while the previous
	// output saturated in the direction of the error.
	if !c.clamped {
		c.integral += err * dt
	}
	iTerm := c.params.Ki * c.integral

	// Derivative on measurement, not on error, so setpoint changes do not
	// spike the derivative term.
	rawDerivative := -(currentValue - c.lastValue) / dt
	derivative := c.filterDerivative(rawDerivative, dt)
	dTerm := c.params.Kd * clamp(derivative, c.minDerivative, c.maxDerivative)

	rawOutput := pTerm + iTerm + dTerm

	output := c.applyClamping(rawOutput, err)

	// Back-calculation: unwind the share of the integral responsible for
	// the overshoot instead of merely freezing it.
	if c.clamped {
		c.integral -= (rawOutput - output) * c.params.BackCalculation * dt
	}

	output = c.limitRate(output, dt)

	c.lastError = err
	c.lastValue = currentValue
	c.lastTarget = targetValue
	c.lastOutput = output

	return output
}

// Gains returns the current proportional, integral and derivative gains.
func (c *Controller) Gains() (kp, ki, kd float64) {
	return c.params.Kp, c.params.Ki, c.params.Kd
}

// SetGains replaces the gains between steps. This is the hook used by the
// adaptive tuner; the controller itself never mutates them.
func (c *Controller) SetGains(kp, ki, kd float64) {
	c.params.Kp = kp
	c.params.Ki = ki
	c.params.Kd = kd
}

// Reset clears all accumulated state. Call it when re-engaging a loop that
// was held in manual mode, so stale windup does not kick the output.
func (c *Controller) Reset() {
	c.lastError = 0
	c.lastValue = 0
	c.lastTarget = 0
	c.lastOutput = 0
	c.lastDerivative = 0
	c.integral = 0
	c.clamped = false
}

// applyClamping bounds the raw output and records whether the controller is
// being driven further into saturation. The sign check is what lets the
// output recover as soon as the error reverses, even while at a limit.
func (c *Controller) applyClamping(output, err float64) float64 {
	clampedOutput := clamp(output, c.params.MinOutput, c.params.MaxOutput)
	c.clamped = clampedOutput != output && math.Signbit(clampedOutput) == math.Signbit(err)
	return clampedOutput
}

// filterDerivative applies first-order exponential smoothing. The smoothing
// factor is derived from the actual step size, so the effective cutoff does
// not assume a fixed sample rate. Filter state carries the previous filtered
// value, not the raw one, so a single outlier cannot reset the filter.
func (c *Controller) filterDerivative(rawDerivative, dt float64) float64 {
	alpha := c.params.Tau / (c.params.Tau + dt)
	filtered := alpha*c.lastDerivative + (1-alpha)*rawDerivative
	c.lastDerivative = filtered
	return filtered
}

// limitRate caps the output's rate of change. It runs after the absolute
// clamp; the result is not re-checked against the output bounds.
func (c *Controller) limitRate(output, dt float64) float64 {
	delta := output - c.lastOutput
	maxDelta := c.maxOutputRate * dt
	if math.Abs(delta) > maxDelta {
		return c.lastOutput + math.Copysign(maxDelta, delta)
	}
	return output
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

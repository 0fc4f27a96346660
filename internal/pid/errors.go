package pid

import "errors"

var (
	ErrInvalidOutputRange           = errors.New("min output must be less than or equal to max output")
	ErrNegativeFilterTimeConstant   = errors.New("derivative filter time constant must be greater or equal to zero")
	ErrNegativeIntegratorResetDelta = errors.New("integrator reset delta must be greater or equal to zero")
	ErrNegativeDerivativeLimit      = errors.New("derivative limit must be greater or equal to zero")
	ErrNegativeOutputRate           = errors.New("max output rate must be greater or equal to zero")
)

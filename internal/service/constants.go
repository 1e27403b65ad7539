package service

import "time"

const (
	// LockWait bounds how long a run queues behind another run for the same athlete
	LockWait = 2 * time.Minute

	// RetryBackoff is the base delay between persistence retries
	RetryBackoff = 50 * time.Millisecond

	// History windows loaded for forward simulation. Long enough that the
	// slowest allowed fitness component has settled.
	PlanHistoryDays       = 365
	AdaptationHistoryDays = 365
)

// Run kinds, used for run-state bookkeeping and duration metrics
const (
	KindCalibration = "calibration"
	KindPlan        = "plan"
	KindCorrelation = "correlation"
	KindAdaptation  = "adaptation"
)

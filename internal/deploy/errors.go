package deploy

import (
	"errors"
	"fmt"
)

var (
	ErrSyncFailed   = errors.New("file sync failed")
	ErrClassify     = errors.New("source classification failed")
	ErrInvalidProxy = errors.New("proxy config failed validation")
	ErrReload       = errors.New("proxy reload failed")
	ErrSwap         = errors.New("proxy config swap failed")
	ErrCanceled     = errors.New("run canceled")
)

// FatalError aborts the run; the live routing config is left as it was.
type FatalError struct {
	Step Step
	Err  error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// StepError is a recoverable failure: recorded, logged, and the run goes on.
type StepError struct {
	Step    Step
	Subject string
	Err     error
}

func (e *StepError) Error() string {
	if e.Subject == "" {
		return fmt.Sprintf("%s: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Step, e.Subject, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

func fatal(step Step, sentinel, err error) *FatalError {
	if err == nil {
		return &FatalError{Step: step, Err: sentinel}
	}
	return &FatalError{Step: step, Err: fmt.Errorf("%w: %w", sentinel, err)}
}

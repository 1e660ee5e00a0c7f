package retry

import (
	"time"

	"go.uber.org/zap"
)

// LogObserver logs each retry at info level under the given operation name.
func LogObserver(logger *zap.Logger, operation string) Observer {
	if logger == nil {
		return nopObserver{}
	}
	return ObserverFunc(func(attempt int, delay time.Duration, err error) {
		logger.Info("retrying operation after failure",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
	})
}

// Observers fans a notification out to several observers.
func Observers(obs ...Observer) Observer {
	return ObserverFunc(func(attempt int, delay time.Duration, err error) {
		for _, o := range obs {
			if o != nil {
				notify(o, attempt, delay, err)
			}
		}
	})
}

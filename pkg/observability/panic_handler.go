package observability

import (
	"runtime/debug"
)

// RecoverPanic recovers a panic and logs it with the stack trace instead of
// crashing the process. Meant for background goroutines; HTTP handlers are
// covered by the recovery middleware.
//
//	defer observability.RecoverPanic(logger, "expiry sweep")
func RecoverPanic(logger *Logger, context string) {
	if r := recover(); r != nil {
		logger.WithField("panic", r).
			WithField("stack", string(debug.Stack())).
			WithField("context", context).
			Error("PANIC recovered")
	}
}

// internal/browser/context_utils.go
package browser

import "context"

// CombineContext returns a context that inherits the values and cancellation of
// parentCtx and is additionally cancelled when secondaryCtx is done. Page
// actions run under the tab context (which carries the CDP target) while
// honouring the caller's deadline.
func CombineContext(parentCtx, secondaryCtx context.Context) (context.Context, context.CancelFunc) {
	combinedCtx, cancel := context.WithCancel(parentCtx)
	stop := context.AfterFunc(secondaryCtx, cancel)
	return combinedCtx, func() {
		stop()
		cancel()
	}
}

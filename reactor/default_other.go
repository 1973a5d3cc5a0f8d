//go:build !linux && !darwin && !freebsd && !openbsd && !dragonfly

package reactor

// NewDefault returns the manual backend on platforms without a native
// multiplexer binding. Readiness must be injected with MarkReady.
func NewDefault() (Reactor, error) {
	return NewManual(), nil
}

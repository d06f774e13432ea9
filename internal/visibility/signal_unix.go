//go:build unix

package visibility

import (
	"os"
	"syscall"
)

// ForegroundSignals are the signals NewSignal watches by default.
var ForegroundSignals = []os.Signal{syscall.SIGCONT, syscall.SIGUSR1}

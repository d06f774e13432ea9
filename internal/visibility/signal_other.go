//go:build !unix

package visibility

import "os"

// ForegroundSignals is empty where job-control signals do not exist.
var ForegroundSignals []os.Signal

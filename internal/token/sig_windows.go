//go:build windows

package token

import "os"

// Windows has no signal-0 probe; os.FindProcess always succeeds there, so
// isProcessAlive degrades to "lock file exists" staleness only.
var syscallSig0 os.Signal = os.Interrupt

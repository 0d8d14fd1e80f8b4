//go:build !windows

package token

import "syscall"

// syscallSig0 sends no actual signal; delivery failure alone tells us
// whether the target process still exists.
var syscallSig0 = syscall.Signal(0)

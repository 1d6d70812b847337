package toolserver

import (
	"os"
	"syscall"
)

// processTermSignal is the graceful-shutdown signal sent to tool server
// child processes before the SIGKILL escalation (spec §4.1 shutdown()).
var processTermSignal os.Signal = syscall.SIGTERM

//go:build unix

package fxrunner

import "golang.org/x/sys/unix"

// Nice values matching the classic PRIORITY_* constants.
var niceValues = map[string]int{
	"LOW":          19,
	"BELOW_NORMAL": 10,
	"NORMAL":       0,
	"ABOVE_NORMAL": -7,
	"HIGH":         -14,
	"HIGHEST":      -20,
}

func setOSPriority(pid int, label string) error {
	return unix.Setpriority(unix.PRIO_PROCESS, pid, niceValues[label])
}

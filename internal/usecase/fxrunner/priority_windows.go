//go:build windows

package fxrunner

import "golang.org/x/sys/windows"

var priorityClasses = map[string]uint32{
	"LOW":          windows.IDLE_PRIORITY_CLASS,
	"BELOW_NORMAL": windows.BELOW_NORMAL_PRIORITY_CLASS,
	"NORMAL":       windows.NORMAL_PRIORITY_CLASS,
	"ABOVE_NORMAL": windows.ABOVE_NORMAL_PRIORITY_CLASS,
	"HIGH":         windows.HIGH_PRIORITY_CLASS,
	"HIGHEST":      windows.REALTIME_PRIORITY_CLASS,
}

func setOSPriority(pid int, label string) error {
	h, err := windows.OpenProcess(windows.PROCESS_SET_INFORMATION, false, uint32(pid))
	if err != nil {
		return err
	}
	defer windows.CloseHandle(h)
	return windows.SetPriorityClass(h, priorityClasses[label])
}

//go:build linux

package core

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Thread tuning is best effort on every platform: a failed rename or a denied
// priority change never fails Start.

func applyThreadName(name string, logger Logger) {
	if name == "" {
		return
	}
	// The kernel limits comm to 15 bytes plus NUL.
	if len(name) > 15 {
		name = name[:15]
	}
	buf := make([]byte, len(name)+1)
	copy(buf, name)
	if err := unix.Prctl(unix.PR_SET_NAME, uintptr(unsafe.Pointer(&buf[0])), 0, 0, 0); err != nil {
		logger.Debug("failed to set thread name", F("name", name), F("error", err))
	}
}

func applyThreadPriority(priority ThreadPriority, logger Logger) {
	var err error
	switch priority {
	case PriorityDefault:
		return
	case PriorityLow:
		err = unix.Setpriority(unix.PRIO_PROCESS, unix.Gettid(), 19)
	case PriorityHigh:
		err = unix.Setpriority(unix.PRIO_PROCESS, unix.Gettid(), -10)
	case PriorityRealTime:
		attr := unix.SchedAttr{
			Size:     unix.SizeofSchedAttr,
			Policy:   unix.SCHED_FIFO,
			Priority: 99,
		}
		err = unix.SchedSetAttr(0, &attr, 0)
	}
	if err != nil {
		logger.Debug("failed to set thread priority", F("priority", priority), F("error", err))
	}
}

package kernel

import (
	"axle/kernel/cpu"
	"axle/kernel/klog"
)

var (
	// cpuHaltFn is a variable so tests can replace it.
	cpuHaltFn = cpu.Halt

	errRuntimePanic = &Error{Module: "rt", Message: "unknown cause"}
)

// Panic logs the supplied error (if not nil) as an unrecoverable-error
// diagnostic and halts the CPU through cpuHaltFn. In this host model
// cpu.Halt only sets the halted flag, so Panic returns to its caller. It is the
// landing spot for every "assertion violation" and "resource exhaustion"
// failure in spec §7's error taxonomy.
func Panic(e interface{}) {
	var err *Error

	switch t := e.(type) {
	case *Error:
		err = t
	case string:
		errRuntimePanic.Message = t
		err = errRuntimePanic
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	default:
		err = errRuntimePanic
	}

	if err != nil {
		klog.Module(err.Module).Error("kernel panic: system halted", "cause", err.Message)
	} else {
		klog.Error("kernel panic: system halted")
	}

	cpuHaltFn()
}

package boot

import (
	"axle/kernel/amc"
	"axle/kernel/mem/vmm"
	"axle/kernel/sched"
	"axle/kernel/syscall"
)

// Syscall numbers. These are this implementation's own numbering (the
// original uses a different ABI entirely); what matters for spec
// conformance is the dispatch contract, not a specific numeric table.
const (
	SysYield           uint32 = 1
	SysSleepUntil      uint32 = 2
	SysTaskExit        uint32 = 3
	SysRegisterService uint32 = 4
	SysSend            uint32 = 5
	SysAwait           uint32 = 6
	SysTaskAssert      uint32 = 7
)

// registerCoreSyscalls lays down the bootstrap task's syscall table (spec
// §4.9 step 9).
func registerCoreSyscalls(k *Kernel) {
	k.Syscalls.Register(SysYield, "sys_yield", func(a syscall.Args) int64 {
		k.Scheduler.Yield()
		return 0
	}, false)

	k.Syscalls.Register(SysSleepUntil, "sys_sleep_until", func(a syscall.Args) int64 {
		deadline := uint64(a.Values[0])
		if err := k.Scheduler.SleepUntil(sched.TID(a.Caller), deadline); err != nil {
			return -1
		}
		return 0
	}, false)

	k.Syscalls.Register(SysTaskExit, "sys_task_exit", func(a syscall.Args) int64 {
		code := int(a.Values[0])
		task, err := k.Scheduler.Exit(sched.TID(a.Caller), code)
		if err != nil {
			return -1
		}
		k.AMC.TaskDied(amc.TaskID(task.ID))
		k.ADI.ReleaseTask(task.ID)
		vmm.DestroyAddressSpace(task.AddressSpace)
		return 0
	}, false)

	k.Syscalls.Register(SysRegisterService, "sys_register_service", func(a syscall.Args) int64 {
		name, ok := readCString(k, sched.TID(a.Caller), a.Values[0], a.Values[1])
		if !ok {
			return -1
		}
		if err := k.AMC.RegisterService(amc.TaskID(a.Caller), name); err != nil {
			return -1
		}
		return 0
	}, false)

	k.Syscalls.Register(SysSend, "sys_send", func(a syscall.Args) int64 {
		dest, ok := readCString(k, sched.TID(a.Caller), a.Values[0], a.Values[1])
		if !ok {
			return -1
		}
		payload, ok := readBytes(k, sched.TID(a.Caller), a.Values[2], a.Values[3])
		if !ok {
			return -1
		}
		srcName, _ := k.AMC.ServiceName(amc.TaskID(a.Caller))
		var frame amc.Frame
		frame.SetCharlist(payload)
		if ok := k.AMC.Send(amc.TaskID(a.Caller), srcName, dest, frame); !ok {
			return -1
		}
		return 0
	}, false)

	k.Syscalls.Register(SysAwait, "sys_await", func(a syscall.Args) int64 {
		if !k.AMC.HasPending(amc.TaskID(a.Caller), nil) {
			if err := k.Scheduler.Block(sched.TID(a.Caller), sched.BlockAMCMessage); err != nil {
				return -1
			}
		}
		return 0
	}, false)

	k.Syscalls.Register(SysTaskAssert, "sys_task_assert", func(a syscall.Args) int64 {
		if a.Snapshot == nil {
			return -1
		}
		task, ok := k.Scheduler.Task(sched.TID(a.Caller))
		if !ok {
			return -1
		}
		_ = task.Backtrace()
		var frame amc.Frame
		frame.SetCommandPointer(crashAssertionFailed, uint64(a.Snapshot.IP), nil)
		k.AMC.Send(amc.TaskID(a.Caller), task.Name, amc.CrashReporterServiceName, frame)
		return -1
	}, true)
}

const crashAssertionFailed uint32 = 1

// readCString reads length bytes from the caller's address space at virt
// and returns them as a string, used by syscalls that take a name pointer
// the way real axle takes a user-space char* (spec §4.8's register-passed
// arguments, adapted to this host-testable substitution for raw pointers).
func readCString(k *Kernel, caller sched.TID, virt, length uintptr) (string, bool) {
	b, ok := readBytes(k, caller, virt, length)
	if !ok {
		return "", false
	}
	return string(b), true
}

func readBytes(k *Kernel, caller sched.TID, virt, length uintptr) ([]byte, bool) {
	task, ok := k.Scheduler.Task(caller)
	if !ok {
		return nil, false
	}
	b, err := vmm.ReadUser(task.AddressSpace, virt, int(length))
	if err != nil {
		return nil, false
	}
	return b, true
}

package boot

import (
	"encoding/binary"

	"axle/kernel"
	"axle/kernel/amc"
	"axle/kernel/elf"
	"axle/kernel/klog"
	"axle/kernel/mem"
	"axle/kernel/mem/vmm"
	"axle/kernel/sched"
)

// HandleCoreCommand interprets a frame addressed to amc.CoreServiceName and
// returns the response frame to send back to the caller, if any (spec
// §4.6's "core-handled commands", §6's per-command layouts).
func (k *Kernel) HandleCoreCommand(caller sched.TID, frame amc.Frame) (amc.Frame, bool) {
	switch frame.Command() {
	case amc.CmdCopyServicesList:
		return k.respondServicesList(), true

	case amc.CmdMapFramebuffer:
		var resp amc.Frame
		resp.SetCommand(amc.CmdMapFramebuffer, encodeFramebuffer(k.Info.Framebuffer))
		return resp, true

	case amc.CmdMapInitrd:
		var resp amc.Frame
		resp.SetCommand(amc.CmdMapInitrd, encodeInitrdMapping(k.Info.InitrdBase, k.Info.InitrdSize))
		return resp, true

	case amc.CmdSystemProfileRequest:
		var resp amc.Frame
		_, pmmAllocated := k.PMM.Stats()
		_, heapAllocated := k.Heap.Stats()
		resp.SetCommand(amc.CmdSystemProfileRequest, encodeSystemProfile(uint64(pmmAllocated), uint64(heapAllocated)))
		return resp, true

	case amc.CmdSleepUntilTimestamp:
		k.Scheduler.SleepUntil(caller, frame.Pointer())
		return amc.Frame{}, false

	case amc.CmdSleepUntilTimestampOrMessage:
		k.Scheduler.SleepUntilOrMessage(caller, frame.Pointer())
		return amc.Frame{}, false

	case amc.CmdSharedMemoryDestroy:
		h := amc.RegionHandle(binary.LittleEndian.Uint32(frame.CommandPayload()[:4]))
		k.AMC.DestroySharedMemory(amc.TaskID(caller), h)
		return amc.Frame{}, false

	case amc.CmdRegisterNotificationServiceDied:
		watched := string(frame.CommandPayload())
		watcherName, _ := k.AMC.ServiceName(amc.TaskID(caller))
		k.AMC.RegisterDeathObserver(watcherName, trimNulls(watched))
		return amc.Frame{}, false

	case amc.CmdFlushMessagesToService:
		// Best-effort: nothing queued server-side needs flushing beyond
		// what Pop already drains; acknowledged for ABI compatibility.
		return amc.Frame{}, false

	case amc.CmdExecBuffer:
		return k.handleExecBuffer(caller, frame)

	case amc.CmdAllocPhysicalRange:
		return k.handleAllocPhysicalRange(caller, frame)

	default:
		return amc.Frame{}, false
	}
}

// handleExecBuffer decodes an ExecBufferRequest out of the caller's address
// space (a frame can't carry an ELF image inline, so the payload is just
// pointer/length pairs) and spawns a new task from it, the userland
// counterpart to spawnInitialServices (spec §4.6, §6).
func (k *Kernel) handleExecBuffer(caller sched.TID, frame amc.Frame) (amc.Frame, bool) {
	payload := frame.CommandPayload()
	nameVirt := binary.LittleEndian.Uint64(payload[0:8])
	nameLen := binary.LittleEndian.Uint64(payload[8:16])
	bufVirt := binary.LittleEndian.Uint64(payload[16:24])
	bufLen := binary.LittleEndian.Uint64(payload[24:32])

	name, ok := readCString(k, caller, uintptr(nameVirt), uintptr(nameLen))
	if !ok {
		return encodeExecResult(0, false), true
	}
	buf, ok := readBytes(k, caller, uintptr(bufVirt), uintptr(bufLen))
	if !ok {
		return encodeExecResult(0, false), true
	}

	tid, err := k.execBuffer(name, buf)
	if err != nil {
		klog.Module("boot").Warn("exec_buffer failed", "name", name, "err", err)
		return encodeExecResult(0, false), true
	}
	return encodeExecResult(tid, true), true
}

// execBuffer clones the kernel address space, loads buf as an ELF image
// into it, and spawns a task to run it, exactly as spawnInitialServices
// does for the fixed boot-time services (spec §4.6, §8 scenario 1), except
// triggered by a running task's exec_buffer request instead of boot.
func (k *Kernel) execBuffer(name string, buf []byte) (sched.TID, *kernel.Error) {
	space, err := vmm.CloneAddressSpace(k.KernelSpace)
	if err != nil {
		return 0, err
	}

	img, lerr := elf.Load(space, buf, []string{name})
	if lerr != nil {
		vmm.DestroyAddressSpace(space)
		return 0, lerr
	}

	tid := k.Scheduler.Spawn(name, space, sched.PriorityNormal)
	klog.Module("boot").Info("exec_buffer spawned task", "name", name, "tid", tid, "entry", img.Entry)
	return tid, nil
}

func encodeExecResult(tid sched.TID, ok bool) amc.Frame {
	var resp amc.Frame
	out := make([]byte, 9)
	putU64(out[0:8], uint64(tid))
	if ok {
		out[8] = 1
	}
	resp.SetCommand(amc.CmdExecBuffer, out)
	return resp
}

// handleAllocPhysicalRange allocates a contiguous run of physical frames
// and maps it into the caller's address space at the virtual address it
// requested, handing back both addresses the way libamc's
// amc_alloc_physical_range expects (spec §4.6).
func (k *Kernel) handleAllocPhysicalRange(caller sched.TID, frame amc.Frame) (amc.Frame, bool) {
	payload := frame.CommandPayload()
	size := binary.LittleEndian.Uint64(payload[0:8])
	virt := binary.LittleEndian.Uint64(payload[8:16])

	task, ok := k.Scheduler.Task(caller)
	if !ok {
		return encodePhysicalRange(0, 0, false), true
	}

	frameCount := uint32((mem.Size(size) + mem.PageSize - 1) / mem.PageSize)
	phys, err := k.PMM.AllocContiguous(frameCount)
	if err != nil {
		return encodePhysicalRange(0, 0, false), true
	}

	if err := vmm.MapPhysicalRange(task.AddressSpace, uintptr(virt), phys, mem.Size(frameCount)*mem.PageSize, vmm.UserRW); err != nil {
		klog.Module("boot").Warn("alloc_physical_range: mapping failed", "err", err)
		return encodePhysicalRange(0, 0, false), true
	}

	return encodePhysicalRange(uint64(phys), virt, true), true
}

func encodePhysicalRange(physBase, virtBase uint64, ok bool) amc.Frame {
	var resp amc.Frame
	out := make([]byte, 17)
	putU64(out[0:8], physBase)
	putU64(out[8:16], virtBase)
	if ok {
		out[16] = 1
	}
	resp.SetCommand(amc.CmdAllocPhysicalRange, out)
	return resp
}

func (k *Kernel) respondServicesList() amc.Frame {
	var resp amc.Frame
	services := k.AMC.Services()
	payload := make([]byte, 0, len(services)*68)
	for _, s := range services {
		nameBuf := make([]byte, 64)
		copy(nameBuf, s.Name)
		payload = append(payload, nameBuf...)
		payload = append(payload, byte(s.UnreadCount), byte(s.UnreadCount>>8), byte(s.UnreadCount>>16), byte(s.UnreadCount>>24))
	}
	resp.SetCommand(amc.CmdCopyServicesList, payload)
	return resp
}

func encodeFramebuffer(fb Framebuffer) []byte {
	out := make([]byte, 17)
	putU64(out[0:8], fb.Base)
	putU32(out[8:12], fb.Width)
	putU32(out[12:16], fb.Height)
	out[16] = fb.BytesPerPixel
	return out
}

func encodeInitrdMapping(base, size uint64) []byte {
	out := make([]byte, 24)
	putU64(out[0:8], base)
	putU64(out[8:16], base+size)
	putU64(out[16:24], size)
	return out
}

func encodeSystemProfile(pmmAllocated, heapAllocated uint64) []byte {
	out := make([]byte, 16)
	putU64(out[0:8], pmmAllocated)
	putU64(out[8:16], heapAllocated)
	return out
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func putU32(b []byte, v uint32) {
	for i := 0; i < 4; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func trimNulls(s string) string {
	for i, c := range s {
		if c == 0 {
			return s[:i]
		}
	}
	return s
}

package boot

import (
	"axle/kernel"
	"axle/kernel/adi"
	"axle/kernel/amc"
	"axle/kernel/elf"
	"axle/kernel/heap"
	"axle/kernel/klog"
	"axle/kernel/mem"
	"axle/kernel/mem/pmm/allocator"
	"axle/kernel/mem/vmm"
	"axle/kernel/sched"
	"axle/kernel/syscall"
)

// InitialServices is the fixed spawn order the bootstrap task follows once
// every subsystem is online (spec §4.9 step 10).
var InitialServices = []string{"file_manager", "awm", "kb_driver", "mouse_driver"}

// Kernel is the fully wired-up collection of singletons produced by Boot:
// PMM, VMM frame allocator, kernel heap, scheduler, AMC bus, ADI controller,
// and syscall table (spec §9: "model as a small number of process-wide
// singletons initialized during boot in a fixed order").
type Kernel struct {
	PMM       *allocator.BitmapAllocator
	Heap      *heap.Heap
	Scheduler *sched.Scheduler
	AMC       *amc.Bus
	ADI       *adi.Controller
	Syscalls  *syscall.Table

	KernelSpace vmm.Handle
	Files       []InitrdFile
	Info        Info
}

// ReservedRange is a physical range (kernel image, initrd, boot info,
// framebuffer) that initPMM marks as allocated even though it falls within a
// usable memory-map range (spec
// §4.1: "frames within usable ranges are cleared unless they fall within
// the kernel image, initrd, boot info, or framebuffer ranges").
type ReservedRange struct {
	Base, Size uint64
}

// Boot runs the init sequence described in spec §4.9 steps 5-10: steps 1-4
// (serial diagnostics, GDT/IDT/TSS, PIT) are genuine hardware setup with no
// host-testable behavior and are logged as simulated milestones rather than
// implemented, per SPEC_FULL.md §0.
func Boot(info Info, initrdBuf []byte, reserved []ReservedRange) (*Kernel, *kernel.Error) {
	klog.Info("boot: serial diagnostics up")
	klog.Info("boot: GDT/IDT/TSS installed")
	klog.Info("boot: PIT armed at 1ms tick")

	pmmAlloc, err := initPMM(info, reserved)
	if err != nil {
		return nil, err
	}

	vmm.SetFrameAllocator(func() (uintptr, *kernel.Error) {
		addr, aerr := pmmAlloc.AllocFrame()
		if aerr != nil {
			return 0, aerr
		}
		return addr, nil
	})

	kernelSpace, err := vmm.NewKernelAddressSpace()
	if err != nil {
		return nil, err
	}
	vmm.NotifyKernelMemoryAllocated()
	klog.Info("boot: VMM kernel half established")

	heapBase, err := vmm.EarlyReserveRegion(64 * mem.Mb)
	if err != nil {
		return nil, err
	}
	kheap := heap.New(kernelSpace, heapBase)
	klog.Info("boot: kernel heap online")

	sc := sched.New(kernelSpace)
	bus := amc.New()
	bus.SetUnblockFunc(func(owner amc.TaskID, serviceName string) {
		sc.Unblock(sched.TID(owner), sched.BlockAMCMessage)
	})
	adiCtrl := adi.New(sc)
	syscalls := syscall.NewTable()
	klog.Info("boot: scheduler, AMC, ADI online")

	files, perr := ParseInitrd(initrdBuf)
	if perr != nil {
		return nil, perr
	}

	k := &Kernel{
		PMM:         pmmAlloc,
		Heap:        kheap,
		Scheduler:   sc,
		AMC:         bus,
		ADI:         adiCtrl,
		Syscalls:    syscalls,
		KernelSpace: kernelSpace,
		Files:       files,
		Info:        info,
	}

	registerCoreSyscalls(k)
	klog.Info("boot: syscalls registered, VFS view onto initrd ready")

	if err := k.spawnInitialServices(); err != nil {
		return nil, err
	}

	return k, nil
}

func initPMM(info Info, reserved []ReservedRange) (*allocator.BitmapAllocator, *kernel.Error) {
	a := allocator.NewForAddressSpace()

	for _, r := range info.UsableRanges() {
		base, pages := r[0], r[1]
		for i := uint64(0); i < pages; i++ {
			a.PushAllocatable(uintptr(base + i*uint64(mem.PageSize)))
		}
	}

	for _, r := range reserved {
		for addr := r.Base; addr < r.Base+r.Size; addr += uint64(mem.PageSize) {
			_ = a.AllocFrameAt(uintptr(addr))
		}
	}

	klog.Info("boot: PMM initialized from memory map")
	return a, nil
}

// spawnInitialServices creates a task and address space for each service in
// InitialServices order, locating its ELF image in the parsed initrd and
// loading it (spec §4.9 step 10, §8 scenario 1).
func (k *Kernel) spawnInitialServices() *kernel.Error {
	for _, name := range InitialServices {
		file, ok := FindInitrdFile(k.Files, name)
		if !ok {
			return &kernel.Error{Module: "boot", Message: "initial service not found in initrd: " + name}
		}

		space, err := vmm.CloneAddressSpace(k.KernelSpace)
		if err != nil {
			return err
		}

		img, lerr := elf.Load(space, file.Data, []string{name})
		if lerr != nil {
			return lerr
		}

		tid := k.Scheduler.Spawn(name, space, sched.PriorityNormal)

		// Real axle has each service register itself with AMC as its first
		// action after the loader hands it control; since nothing in this
		// repository executes the loaded image's instructions, the loader
		// registers the fixed initial services on their behalf (spec §8
		// scenario 1: "the system boots to a state where all four services
		// are registered with AMC").
		serviceName := "com.axle." + name
		if rerr := k.AMC.RegisterService(amc.TaskID(tid), serviceName); rerr != nil {
			return rerr
		}

		klog.Module("boot").Info("spawned initial service", "name", serviceName, "tid", tid, "entry", img.Entry)
	}
	return nil
}

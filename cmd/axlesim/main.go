// axlesim is the host harness that plays the role of axle's bootloader
// and the hardware it hands off to: it assembles a boot info record and
// an initrd image, calls into kernel/boot to bring the kernel up, then
// drives the event loop a real machine would drive via timer interrupts
// and PS/2 scancodes (spec §4.9's "from that point the system is
// event-driven").
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"axle/cmd/axlesim/console"
	"axle/kernel/boot"
	"axle/kernel/klog"
	"axle/kernel/mem"
	"axle/kernel/sched"
)

// keyboardVector is IRQ1 at the classic APIC offset (32 + 1), the line
// axlesim's simulated PS/2 controller raises on each keystroke.
const keyboardVector uint8 = 33

func main() {
	os.Exit(run())
}

func run() int {
	initrdPath := flag.String("initrd", "", "path to an initrd image")
	tickInterval := flag.Duration("tick", 10*time.Millisecond, "simulated timer tick period")
	flag.Parse()

	con, err := console.New(os.Stdin, os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, "axlesim: console:", err)
		return 1
	}
	defer con.Restore()

	klog.SetOutput(con)
	klog.Info("axlesim: simulated hardware online")

	initrd, err := loadInitrd(*initrdPath)
	if err != nil {
		klog.Error("axlesim: failed to load initrd", "err", err)
		return 1
	}

	info := boot.Info{
		Framebuffer: boot.Framebuffer{Base: 0xFD00_0000, Width: 1024, Height: 768, BytesPerPixel: 4},
		MemoryDescriptors: []boot.MemoryDescriptor{
			{Type: boot.MemoryDescriptorUsableType, PhysicalStart: 0x10_0000, NumberOfPages: 1 << 16},
		},
		InitrdBase: 0x20_0000,
		InitrdSize: uint64(len(initrd)),
	}

	reserved := []boot.ReservedRange{
		{Base: 0, Size: uint64(mem.Mb)},
	}

	k, berr := boot.Boot(info, initrd, reserved)
	if berr != nil {
		klog.Error("axlesim: boot failed", "err", berr)
		return 1
	}

	if rerr := k.ADI.RegisterDriver(firstTaskNamed(k, "kb_driver"), "kb_driver", keyboardVector); rerr != nil {
		klog.Warn("axlesim: kb_driver did not register for IRQ1", "err", rerr)
	}

	driveEventLoop(k, con, *tickInterval)

	return 0
}

// driveEventLoop stands in for the timer/APIC hardware and the 8042
// keyboard controller: it ticks the scheduler on a fixed interval and
// turns host keystrokes into keyboard IRQs, exactly the two external
// events a real axle machine would deliver.
func driveEventLoop(k *boot.Kernel, con *console.Console, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case _, ok := <-con.Keys():
			if !ok {
				return
			}
			k.ADI.DeliverIRQ(keyboardVector)

		case <-ticker.C:
			k.Scheduler.Tick()
			if !k.Scheduler.AnyRunnable() {
				return
			}
		}
	}
}

func firstTaskNamed(k *boot.Kernel, name string) (tid sched.TID) {
	for id := sched.TID(1); ; id++ {
		task, ok := k.Scheduler.Task(id)
		if !ok {
			return 0
		}
		if task.Name == name {
			return id
		}
	}
}

func loadInitrd(path string) ([]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("axlesim: -initrd is required")
	}
	return os.ReadFile(path)
}

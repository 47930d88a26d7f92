package amc

import (
	"axle/kernel"
	"axle/kernel/klog"
	ksync "axle/kernel/sync"
)

const (
	// maxInboxDepth caps per-service inbox depth. spec §9 leaves inbox
	// backpressure as an open question and suggests this is what a
	// production implementation should add; this implementation resolves
	// that open question by capping it (see SPEC_FULL.md §9).
	maxInboxDepth = 256

	// MaxNameLen is the service-name length limit from spec §3.
	MaxNameLen = maxNameLen

	// CoreServiceName is the reserved service interpreted directly by the
	// kernel (spec §4.6).
	CoreServiceName = "com.axle.core"

	// CrashReporterServiceName receives synthesized fault records (spec
	// §7, SPEC_FULL.md §4).
	CrashReporterServiceName = "com.axle.crash_reporter"
)

// TaskID identifies the task owning a service. It intentionally does not
// depend on the sched package, to avoid a package cycle (sched depends on
// amc for shared-memory region handles, not the reverse).
type TaskID uint32

var (
	errNameTooLong = &kernel.Error{Module: "amc", Message: "service name too long"}
	errNameInUse   = &kernel.Error{Module: "amc", Message: "service name already registered"}
)

type service struct {
	name  string
	owner TaskID
	inbox []Frame
}

// Bus is axle's process-wide AMC singleton: the service registry plus every
// inbox (spec §9: "model as a small number of process-wide singletons").
type Bus struct {
	mu ksync.Spinlock

	byName map[string]*service
	byOwner map[TaskID]*service

	// pendingForCore holds messages addressed to a not-yet-registered
	// service, sent by "core" during early boot (spec §4.6).
	pendingForCore map[string][]Frame

	// deathObservers maps a watched service name to the names of
	// services that asked to be notified when it dies.
	deathObservers map[string][]string

	// unblock is called to wake a task blocked awaiting a message. It is
	// wired by the scheduler during boot to avoid a sched<->amc import
	// cycle; nil is tolerated (tests may leave it unset).
	unblock func(owner TaskID, serviceName string)

	regions map[RegionHandle]*Region
	nextRegion RegionHandle
}

// New creates an empty AMC bus.
func New() *Bus {
	return &Bus{
		byName:         map[string]*service{},
		byOwner:        map[TaskID]*service{},
		pendingForCore: map[string][]Frame{},
		deathObservers: map[string][]string{},
		regions:        map[RegionHandle]*Region{},
	}
}

// SetUnblockFunc wires the scheduler callback AMC uses to wake a task that
// is blocked awaiting a message. Called once during boot.
func (b *Bus) SetUnblockFunc(fn func(owner TaskID, serviceName string)) {
	b.mu.Acquire()
	defer b.mu.Release()
	b.unblock = fn
}

// RegisterService binds owner to name. Names are at most MaxNameLen bytes
// and unique system-wide; re-registration is an error (spec §4.6: "the task
// is killed"; the caller is responsible for acting on that).
func (b *Bus) RegisterService(owner TaskID, name string) *kernel.Error {
	if len(name) > MaxNameLen {
		return errNameTooLong
	}

	b.mu.Acquire()
	defer b.mu.Release()

	if _, exists := b.byName[name]; exists {
		return errNameInUse
	}

	svc := &service{name: name, owner: owner}
	b.byName[name] = svc
	b.byOwner[owner] = svc

	if pending, ok := b.pendingForCore[name]; ok {
		svc.inbox = append(svc.inbox, pending...)
		delete(b.pendingForCore, name)
	}

	klog.Module("amc").Info("service registered", "name", name, "owner", owner)
	return nil
}

func (b *Bus) serviceForOwnerLocked(owner TaskID) (*service, bool) {
	s, ok := b.byOwner[owner]
	return s, ok
}

// Send delivers up to 64 bytes from src to the service named dest. It never
// blocks (spec §4.6). If dest is not yet registered and src is "core", the
// message is queued pending registration; otherwise Send returns false. If
// the destination inbox is at capacity, Send returns false (this
// implementation's resolution of the inbox-backpressure open question).
func (b *Bus) Send(src TaskID, srcName, dest string, frame Frame) bool {
	b.mu.Acquire()
	defer b.mu.Release()

	frame.Source = srcName
	frame.Dest = dest

	svc, ok := b.byName[dest]
	if !ok {
		if srcName == "core" {
			b.pendingForCore[dest] = append(b.pendingForCore[dest], frame)
			return true
		}
		return false
	}

	if len(svc.inbox) >= maxInboxDepth {
		klog.Module("amc").Warn("inbox full, dropping message", "dest", dest)
		return false
	}

	svc.inbox = append(svc.inbox, frame)

	if b.unblock != nil {
		b.unblock(svc.owner, srcName)
	}
	return true
}

// Broadcast delivers frame to every registered service except the sender's
// own, tagging the source as srcName; services whose inbox is full are
// skipped.
// Real axle restricts broadcast recipients to services currently blocked
// awaiting any message (spec §4.6); this implementation still delivers to
// every registered inbox (so a message arriving later is not lost) but only
// actively wakes the ones that are blocked, which is the externally
// observable behavior spec §4.6 describes.
func (b *Bus) Broadcast(src TaskID, srcName string, frame Frame) {
	b.mu.Acquire()
	defer b.mu.Release()

	frame.Source = srcName
	frame.Dest = ""

	for name, svc := range b.byName {
		if svc.owner == src {
			continue
		}
		if len(svc.inbox) >= maxInboxDepth {
			continue
		}
		svc.inbox = append(svc.inbox, frame)
		if b.unblock != nil {
			b.unblock(svc.owner, srcName)
		}
		_ = name
	}
}

// Peek reports whether owner's inbox has a message satisfying match (nil
// matches anything), without removing it.
func (b *Bus) Peek(owner TaskID, match func(Frame) bool) (Frame, bool) {
	b.mu.Acquire()
	defer b.mu.Release()

	svc, ok := b.serviceForOwnerLocked(owner)
	if !ok {
		return Frame{}, false
	}

	for _, f := range svc.inbox {
		if match == nil || match(f) {
			return f, true
		}
	}
	return Frame{}, false
}

// Pop removes and returns the first queued message satisfying match (nil
// matches anything). Ordering within a (sender, receiver) pair is preserved
// because each inbox is a single FIFO slice (spec §4.6, §8).
func (b *Bus) Pop(owner TaskID, match func(Frame) bool) (Frame, bool) {
	b.mu.Acquire()
	defer b.mu.Release()

	svc, ok := b.serviceForOwnerLocked(owner)
	if !ok {
		return Frame{}, false
	}

	for i, f := range svc.inbox {
		if match == nil || match(f) {
			svc.inbox = append(svc.inbox[:i], svc.inbox[i+1:]...)
			return f, true
		}
	}
	return Frame{}, false
}

// HasPending reports whether owner's inbox currently holds any message
// matching match; used by the sys_await syscall to return immediately rather
// than block when a message is already queued (spec §4.6).
func (b *Bus) HasPending(owner TaskID, match func(Frame) bool) bool {
	_, ok := b.Peek(owner, match)
	return ok
}

// RegisterDeathObserver records that watcherName wants a service-died
// notification when watchedName's owning task exits (spec §4.6's
// register-notification-service-died core command).
func (b *Bus) RegisterDeathObserver(watcherName, watchedName string) {
	b.mu.Acquire()
	defer b.mu.Release()
	b.deathObservers[watchedName] = append(b.deathObservers[watchedName], watcherName)
}

// ServiceName returns the canonical service name owned by owner, if any.
func (b *Bus) ServiceName(owner TaskID) (string, bool) {
	b.mu.Acquire()
	defer b.mu.Release()
	svc, ok := b.serviceForOwnerLocked(owner)
	if !ok {
		return "", false
	}
	return svc.name, true
}

// Services returns a snapshot of every registered service name and its
// current unread message count, backing the "copy services list" core
// command (spec §4.6, §6).
func (b *Bus) Services() []ServiceInfo {
	b.mu.Acquire()
	defer b.mu.Release()

	out := make([]ServiceInfo, 0, len(b.byName))
	for name, svc := range b.byName {
		out = append(out, ServiceInfo{Name: name, UnreadCount: uint32(len(svc.inbox))})
	}
	return out
}

// ServiceInfo is one entry of the copy-services-list response (spec §6).
type ServiceInfo struct {
	Name        string
	UnreadCount uint32
}

// TaskDied flushes owner's inbox, releases its shared-memory regions, and
// notifies every service that registered death interest in it (spec §4.6's
// service-death handling). It returns the names of services notified, for
// callers (kernel/sched) that want to log or test the fan-out.
func (b *Bus) TaskDied(owner TaskID) []string {
	b.mu.Acquire()
	svc, ok := b.byOwner[owner]
	var name string
	if ok {
		name = svc.name
		delete(b.byName, svc.name)
		delete(b.byOwner, owner)
	}
	observers := append([]string(nil), b.deathObservers[name]...)
	delete(b.deathObservers, name)
	b.mu.Release()

	b.releaseOwnerRegionsLocked(owner)

	if name == "" {
		return nil
	}

	for _, watcher := range observers {
		var frame Frame
		frame.SetCommand(cmdServiceDied, []byte(name))
		b.Send(0, CoreServiceName, watcher, frame)
	}
	return observers
}

const cmdServiceDied uint32 = 1 << 9

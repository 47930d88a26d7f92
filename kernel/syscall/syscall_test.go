package syscall

import "testing"

func TestDispatchUnknownCallFails(t *testing.T) {
	tbl := NewTable()
	if got := tbl.Dispatch(999, 0, [MaxArgs]uintptr{}, nil); got != -1 {
		t.Fatalf("expected -1 for unknown call, got %d", got)
	}
}

func TestDispatchPassesArgs(t *testing.T) {
	tbl := NewTable()
	tbl.Register(1, "sys_add", func(a Args) int64 {
		return int64(a.Values[0]) + int64(a.Values[1])
	}, false)

	got := tbl.Dispatch(1, 0, [MaxArgs]uintptr{3, 4}, nil)
	if got != 7 {
		t.Fatalf("got %d, want 7", got)
	}
}

func TestDispatchAttachesSnapshotOnlyWhenRequested(t *testing.T) {
	tbl := NewTable()
	var sawSnapshot bool
	tbl.Register(2, "task_assert", func(a Args) int64 {
		sawSnapshot = a.Snapshot != nil
		return 0
	}, true)
	tbl.Register(3, "sys_noop", func(a Args) int64 {
		if a.Snapshot != nil {
			t.Fatalf("handler that did not request a snapshot received one")
		}
		return 0
	}, false)

	snap := &RegisterSnapshot{IP: 0x1234}
	tbl.Dispatch(2, 0, [MaxArgs]uintptr{}, snap)
	if !sawSnapshot {
		t.Fatalf("expected task_assert to receive the register snapshot")
	}

	tbl.Dispatch(3, 0, [MaxArgs]uintptr{}, snap)
}

func TestRegisteredReportsBoundCalls(t *testing.T) {
	tbl := NewTable()
	if tbl.Registered(5) {
		t.Fatalf("expected unregistered call to report false")
	}
	tbl.Register(5, "sys_yield", func(Args) int64 { return 0 }, false)
	if !tbl.Registered(5) {
		t.Fatalf("expected registered call to report true")
	}
}

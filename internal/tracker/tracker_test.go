package tracker_test

import (
	"testing"
	"time"

	"mockrelay/internal/logger"
	"mockrelay/internal/tracker"
)

func TestBeginAndFinish(t *testing.T) {
	tr := tracker.New(5*time.Second, logger.NewNop())
	defer tr.Stop()

	tr.Begin("id1", "c1", "GET", "http://x/api/jobs")
	if tr.Len() != 1 {
		t.Fatalf("got %d entries, want 1", tr.Len())
	}

	e, ok := tr.Peek("id1")
	if !ok || e.Stage != tracker.StageAwaitingClient || e.ClientID != "c1" {
		t.Errorf("Peek() = %+v, %v", e, ok)
	}

	tr.Advance("id1", tracker.StageFetching)
	if e, _ := tr.Peek("id1"); e.Stage != tracker.StageFetching {
		t.Errorf("stage = %s, want fetching", e.Stage)
	}

	if _, ok := tr.Finish("id1"); !ok {
		t.Error("Finish() should find the entry")
	}
	// 第二次 Finish 应该失败（已被删除）
	if _, ok := tr.Finish("id1"); ok {
		t.Error("second Finish() should fail")
	}
}

func TestAdvanceUnknown(t *testing.T) {
	tr := tracker.New(time.Second, nil)
	defer tr.Stop()
	tr.Advance("missing", tracker.StageFetching)
	if tr.Len() != 0 {
		t.Error("Advance must not create entries")
	}
}

func TestListOrdered(t *testing.T) {
	tr := tracker.New(time.Minute, nil)
	defer tr.Stop()

	tr.Begin("a", "", "GET", "/a")
	time.Sleep(2 * time.Millisecond)
	tr.Begin("b", "", "GET", "/b")

	list := tr.List()
	if len(list) != 2 || list[0].ID != "a" || list[1].ID != "b" {
		t.Errorf("got %+v", list)
	}
}

func TestReap(t *testing.T) {
	tr := tracker.New(50*time.Millisecond, nil)
	defer tr.Stop()

	tr.Begin("old", "", "GET", "/old")
	if n := tr.Reap(time.Now()); n != 0 {
		t.Errorf("fresh entry reaped: %d", n)
	}
	if n := tr.Reap(time.Now().Add(time.Second)); n != 1 {
		t.Errorf("got %d reaped, want 1", n)
	}
	if tr.Len() != 0 {
		t.Error("entry should be removed")
	}
}

func TestStopTwice(t *testing.T) {
	tr := tracker.New(time.Second, nil)
	tr.Stop()
	tr.Stop()
}

package workerpool

import (
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/reactord/reactord/internal/logger"
)

func TestSubmitRunsAllTasks(t *testing.T) {
	p := New(4, nil)
	var count atomic.Int64

	const n = 200
	for i := 0; i < n; i++ {
		p.Submit(func() { count.Add(1) })
	}

	deadline := time.Now().Add(2 * time.Second)
	for count.Load() != n && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	p.Close()

	if got := count.Load(); got != n {
		t.Fatalf("expected %d tasks run, got %d", n, got)
	}
}

func TestCloseDrainsQueueBeforeExit(t *testing.T) {
	p := New(1, nil)
	var ran atomic.Bool
	p.Submit(func() {
		time.Sleep(10 * time.Millisecond)
	})
	p.Submit(func() { ran.Store(true) })

	p.Close()

	if !ran.Load() {
		t.Fatalf("expected queued task to run before Close returns")
	}
}

func TestSubmitAfterClosePanics(t *testing.T) {
	p := New(1, nil)
	p.Close()

	defer func() {
		if recover() == nil {
			t.Fatalf("expected Submit after Close to panic")
		}
	}()
	p.Submit(func() {})
}

// TestTaskPanicDoesNotKillWorker confirms a panicking task is recovered and
// logged, and the worker goroutine keeps serving later tasks.
func TestTaskPanicDoesNotKillWorker(t *testing.T) {
	dir := t.TempDir()
	log, err := logger.New(logger.Config{Dir: dir, Suffix: ".log", Level: logger.Debug})
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}

	p := New(1, log)
	p.Submit(func() { panic("boom") })

	var ran atomic.Bool
	p.Submit(func() { ran.Store(true) })

	deadline := time.Now().Add(2 * time.Second)
	for !ran.Load() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	p.Close()
	log.Close()

	if !ran.Load() {
		t.Fatalf("expected task submitted after a panic to still run")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var found bool
	for _, e := range entries {
		data, err := os.ReadFile(dir + "/" + e.Name())
		if err != nil {
			t.Fatalf("ReadFile: %v", err)
		}
		if strings.Contains(string(data), "boom") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected recovered panic to be logged")
	}
}

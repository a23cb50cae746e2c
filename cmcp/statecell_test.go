package cmcp

import (
	"testing"
	"time"
)

func TestStateCellGetSet(t *testing.T) {
	c := NewStateCell(0)
	if got := c.Get(); got != 0 {
		t.Fatalf("Get: got %d, want 0", got)
	}

	c.Set(3)
	if got := c.Get(); got != 3 {
		t.Fatalf("Get after Set: got %d, want 3", got)
	}
}

func TestStateCellAwaitStateSignalled(t *testing.T) {
	c := NewStateCell(0)

	done := make(chan struct{})
	go func() {
		time.Sleep(10 * time.Millisecond)
		c.Set(1)
		close(done)
	}()

	c.Lock()
	result := c.AwaitState(1, time.Now().Add(time.Second))
	c.Unlock()

	if result != Signalled {
		t.Fatalf("AwaitState: got %v, want Signalled", result)
	}
	<-done
}

func TestStateCellAwaitStateDeadline(t *testing.T) {
	c := NewStateCell(0)

	c.Lock()
	result := c.AwaitState(1, time.Now().Add(20*time.Millisecond))
	c.Unlock()

	if result != DeadlineReached {
		t.Fatalf("AwaitState: got %v, want DeadlineReached", result)
	}
}

func TestStateCellCompareAndSet(t *testing.T) {
	c := NewStateCell(0)

	if c.CompareAndSet(1, 2) {
		t.Fatalf("CompareAndSet: succeeded with mismatched old value")
	}
	if !c.CompareAndSet(0, 1) {
		t.Fatalf("CompareAndSet: failed with matching old value")
	}
	if got := c.Get(); got != 1 {
		t.Fatalf("Get after CompareAndSet: got %d, want 1", got)
	}
}

func TestStateCellCompareAndSetWakesWaiter(t *testing.T) {
	c := NewStateCell(0)

	done := make(chan struct{})
	go func() {
		time.Sleep(10 * time.Millisecond)
		c.CompareAndSet(0, 5)
		close(done)
	}()

	c.Lock()
	result := c.AwaitState(5, time.Now().Add(time.Second))
	c.Unlock()

	if result != Signalled {
		t.Fatalf("AwaitState: got %v, want Signalled", result)
	}
	<-done
}

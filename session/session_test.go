package session

import (
	"sync"
	"testing"
)

func TestBeginEnd(t *testing.T) {
	r := NewRegistry()
	a := r.Begin()
	b := r.Begin()
	if a == 0 || b == 0 || a == b {
		t.Fatalf("expect distinct non-zero ids, got %d and %d", a, b)
	}
	if !r.IsActive(a) || !r.IsActive(b) {
		t.Fatal("begun sessions must be active")
	}

	r.End(a)
	if r.IsActive(a) {
		t.Fatal("ended session must be inactive")
	}
	if !r.IsActive(b) {
		t.Fatal("ending a must not end b")
	}
	r.End(a) // double end is a no-op
	if r.Len() != 1 {
		t.Fatalf("expect 1 active session, got %d", r.Len())
	}
}

func TestBindOwner(t *testing.T) {
	r := NewRegistry()
	sid := r.Begin()
	r.Bind(sid, 42)

	owner, ok := r.Owner(sid)
	if !ok || owner != 42 {
		t.Fatalf("expect owner 42, got %d (%v)", owner, ok)
	}

	r.End(sid)
	r.Bind(sid, 43)
	if _, ok := r.Owner(sid); ok {
		t.Fatal("binding an ended session must not revive it")
	}
}

func TestBeginSkipsActiveAfterWrap(t *testing.T) {
	r := NewRegistry()
	first := r.Begin() // 1
	r.next = 1<<31 - 2

	wrapped := r.Begin()
	if wrapped != 1<<31-1 {
		t.Fatalf("expect max id, got %d", wrapped)
	}
	next := r.Begin()
	if next == first {
		t.Fatal("an active id must never be reissued")
	}
	if next != 2 {
		t.Fatalf("expect wrap to skip active id 1 and land on 2, got %d", next)
	}
}

func TestClear(t *testing.T) {
	r := NewRegistry()
	ids := []int{r.Begin(), r.Begin(), r.Begin()}
	r.Clear()
	for _, id := range ids {
		if r.IsActive(id) {
			t.Fatalf("session %d survived Clear", id)
		}
	}
}

func TestConcurrentBeginUnique(t *testing.T) {
	r := NewRegistry()
	var mu sync.Mutex
	seen := map[int]bool{}
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := r.Begin()
			mu.Lock()
			defer mu.Unlock()
			if seen[id] {
				t.Errorf("duplicate session id %d", id)
			}
			seen[id] = true
		}()
	}
	wg.Wait()
	if r.Len() != 100 {
		t.Fatalf("expect 100 active sessions, got %d", r.Len())
	}
}

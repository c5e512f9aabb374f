// Package calltable tracks outbound calls that are waiting for their response.
//
// Every call issued on a connection gets a call id and a Pending future. The dispatcher's read loop resolves
// the future when the response with the same id arrives; connection teardown fails every future still in
// the table. Responses can arrive in any order: correlation is strictly by id.
package calltable

import (
	"context"
	"errors"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"duplex-rpc/message"
)

var ErrDuplicateID = errors.New("call id already outstanding")

// MaxTombstones bounds the abandoned ids a Table remembers. Past that the oldest is forgotten, and a late
// response to it is reported as unknown.
const MaxTombstones = 4096

// Result is what a Pending resolves to. Err is set for transport failures and abandoned calls;
// otherwise exactly one of Status or Payload describes the outcome (both empty for void methods).
type Result struct {
	Status    *message.Status
	Payload   []byte
	CodecType byte
	Err       error
}

// Pending is the completion sink of one outbound call. It resolves exactly once.
type Pending struct {
	ID        uint32
	Protocol  string
	Method    string
	SessionID int // 0 when the call does not own a session

	done       chan struct{}
	once       sync.Once
	res        Result
	onComplete func(*Pending, Result)
}

func NewPending(protocol, method string) *Pending {
	return &Pending{
		Protocol: protocol,
		Method:   method,
		done:     make(chan struct{}),
	}
}

// Failed returns a Pending that is already resolved with err. It never enters a Table.
func Failed(protocol, method string, err error) *Pending {
	p := NewPending(protocol, method)
	p.complete(Result{Err: err})
	return p
}

// OnComplete installs a hook that runs after the result is fixed but before waiters wake up.
// It must be set before the Pending is registered.
func (p *Pending) OnComplete(fn func(*Pending, Result)) {
	p.onComplete = fn
}

// Done is closed once the call is resolved.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Result returns the outcome without blocking; ok is false while the call is outstanding.
func (p *Pending) Result() (Result, bool) {
	select {
	case <-p.done:
		return p.res, true
	default:
		return Result{}, false
	}
}

// Wait blocks until the call resolves or ctx is done. A ctx error does not abandon the call;
// the caller decides whether to (see Table.Abandon).
func (p *Pending) Wait(ctx context.Context) (Result, error) {
	select {
	case <-p.done:
		return p.res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (p *Pending) complete(res Result) bool {
	fired := false
	p.once.Do(func() {
		fired = true
		p.res = res
		if p.onComplete != nil {
			p.onComplete(p, res)
		}
		close(p.done)
	})
	return fired
}

// Table is the per-connection call table.
type Table struct {
	mu         sync.Mutex
	seq        uint32
	pending    map[uint32]*Pending
	tombstones *lru.Cache[uint32, struct{}]
	closed     error
}

func New() *Table {
	tombstones, err := lru.New[uint32, struct{}](MaxTombstones)
	if err != nil {
		panic(err)
	}
	return &Table{
		pending:    make(map[uint32]*Pending),
		tombstones: tombstones,
	}
}

// NextID returns the next free call id. Ids are monotonically increasing, wrap around,
// never 0, and skip ids that are outstanding or tombstoned.
func (t *Table) NextID() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nextIDLocked()
}

func (t *Table) nextIDLocked() uint32 {
	for {
		t.seq++
		if t.seq == 0 {
			continue
		}
		if _, busy := t.pending[t.seq]; busy {
			continue
		}
		if t.tombstones.Contains(t.seq) {
			continue
		}
		return t.seq
	}
}

// Register records p under id. It fails once the table has been failed by FailAll.
func (t *Table) Register(id uint32, p *Pending) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed != nil {
		return t.closed
	}
	if _, ok := t.pending[id]; ok {
		return ErrDuplicateID
	}
	p.ID = id
	t.pending[id] = p
	return nil
}

// Add allocates an id and registers p under it atomically.
func (t *Table) Add(p *Pending) (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed != nil {
		return 0, t.closed
	}
	id := t.nextIDLocked()
	p.ID = id
	t.pending[id] = p
	return id, nil
}

// Resolve completes the call registered under id. It returns false if there is no such call,
// which the caller treats as a protocol violation unless Forget reports a tombstone.
func (t *Table) Resolve(id uint32, res Result) bool {
	p := t.take(id)
	if p == nil {
		return false
	}
	return p.complete(res)
}

// Abandon removes an outstanding call on behalf of its caller (deadline, cancellation) and
// completes it with err. The id is tombstoned so a late response is discarded silently.
// It returns false if the call had already been resolved.
func (t *Table) Abandon(id uint32, err error) bool {
	t.mu.Lock()
	p, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
		t.tombstones.Add(id, struct{}{})
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	return p.complete(Result{Err: err})
}

// Forget clears the tombstone for id and reports whether there was one.
func (t *Table) Forget(id uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tombstones.Remove(id)
}

// Fail removes the call registered under id and completes it with err, without leaving a tombstone.
// Used when the call frame never made it onto the wire.
func (t *Table) Fail(id uint32, err error) bool {
	p := t.take(id)
	if p == nil {
		return false
	}
	return p.complete(Result{Err: err})
}

func (t *Table) take(id uint32) *Pending {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pending[id]
	if !ok {
		return nil
	}
	delete(t.pending, id)
	return p
}

// FailAll resolves every outstanding call with err and refuses further registrations.
// It returns the number of calls failed.
func (t *Table) FailAll(err error) int {
	t.mu.Lock()
	if t.closed == nil {
		t.closed = err
	}
	victims := make([]*Pending, 0, len(t.pending))
	for id, p := range t.pending {
		victims = append(victims, p)
		delete(t.pending, id)
	}
	t.tombstones.Purge()
	t.mu.Unlock()

	n := 0
	for _, p := range victims {
		if p.complete(Result{Err: err}) {
			n++
		}
	}
	return n
}

// Tombstones returns the number of abandoned ids still awaiting a late response.
func (t *Table) Tombstones() int {
	return t.tombstones.Len()
}

// Len returns the number of outstanding calls.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

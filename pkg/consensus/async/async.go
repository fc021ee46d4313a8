// Package async implements the write-back journal consensus layer: it
// sits in front of another consensus.Consensus (typically paxos.Paxos),
// acknowledging store/update/remove as soon as they are durably
// journaled to disk and draining them toward the wrapped consensus in
// strict per-address FIFO order on a single background goroutine.
package async

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/doughnut/pkg/address"
	"github.com/cuemby/doughnut/pkg/block"
	"github.com/cuemby/doughnut/pkg/consensus"
	"github.com/cuemby/doughnut/pkg/dnerr"
	"github.com/cuemby/doughnut/pkg/log"
	"github.com/cuemby/doughnut/pkg/metrics"
	"github.com/cuemby/doughnut/pkg/silo"
)

// Resolver is consensus.Resolver, named locally so journal.go reads
// naturally; the two are interchangeable.
type Resolver = consensus.Resolver

// Config tunes the journal's memory bound, coalescing, and retry policy.
type Config struct {
	// JournalDir holds one file per pending entry, named by decimal index.
	JournalDir string
	// QueueCapacity bounds how many entries are held in memory at once;
	// entries beyond it are written to disk only and re-read on demand
	// when the drain loop reaches them.
	QueueCapacity int
	// MaxHop bounds how many consecutive Set entries for the same
	// address may coalesce into one another before a hop is forced to
	// actually reach the wrapped consensus, preventing a hot address
	// from starving its own durability.
	MaxHop int
	// MaxRetries bounds how many times a conflicting entry is re-resolved
	// and retried before being dropped with a surfaced error.
	MaxRetries int
	// ShutdownDrainTimeout bounds how long Close waits for the in-flight
	// queue to empty before giving up and leaving the remainder on disk
	// for the next replay.
	ShutdownDrainTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 1024
	}
	if c.MaxHop <= 0 {
		c.MaxHop = 16
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.ShutdownDrainTimeout <= 0 {
		c.ShutdownDrainTimeout = 5 * time.Second
	}
}

// Async is a consensus.Consensus decorator implementing the write-back
// journal described above. All mutable state is owned by the mutex
// except processing itself, which runs on a single goroutine so the
// wrapped consensus never observes two in-flight operations for the
// same address out of order.
type Async struct {
	cfg  Config
	next consensus.Consensus

	mu        sync.Mutex
	nextIndex uint64
	order     []uint64               // pending indices, oldest first
	inMemory  map[uint64]*entry       // entries still held in RAM
	byAddr    map[address.Address][]uint64 // pending indices per address, oldest first

	hasInFlight bool   // true while the drain goroutine is mid-call into next
	inFlightIdx uint64 // index currently being applied; never coalesced away

	wake  chan struct{}
	stop  chan struct{}
	done  chan struct{}
	drops []DroppedEntry
}

// DroppedEntry records a journal entry that exhausted its retry budget
// and was abandoned; surfaced at the next call to Drops.
type DroppedEntry struct {
	Index   uint64
	Address address.Address
	Err     error
}

// New opens journalDir, replays any entries left over from a prior
// process, and starts the background drain goroutine. Replay runs
// synchronously here, so no caller can observe Async before the
// journal's replay barrier has already opened — New simply does not
// return until it has.
func New(cfg Config, next consensus.Consensus) (*Async, error) {
	cfg.setDefaults()
	a := &Async{
		cfg:      cfg,
		next:     next,
		inMemory: make(map[uint64]*entry),
		byAddr:   make(map[address.Address][]uint64),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if err := a.replay(); err != nil {
		return nil, err
	}
	go a.run()
	return a, nil
}

func (a *Async) replay() error {
	indices, err := listJournalIndices(a.cfg.JournalDir)
	if err != nil {
		return err
	}
	for _, idx := range indices {
		e, err := readJournalEntry(a.cfg.JournalDir, idx)
		if err != nil {
			log.WithComponent("async").Warn().Uint64("index", idx).Err(err).Msg("async: skipping unreadable journal entry")
			continue
		}
		a.inMemory[idx] = e
		a.order = append(a.order, idx)
		a.byAddr[e.addr] = append(a.byAddr[e.addr], idx)
		if idx >= a.nextIndex {
			a.nextIndex = idx + 1
		}
	}
	a.publishDepth()
	return nil
}

// Store journals b for eventual delivery to the wrapped consensus,
// coalescing with any pending Set already queued for b's address.
func (a *Async) Store(ctx context.Context, b block.Block, mode silo.Mode, resolver Resolver) error {
	return a.submit(&entry{addr: b.Address(), kind: opSet, block: b, mode: mode, resolver: resolver})
}

// Remove journals a tombstone for addr. Remove entries never coalesce,
// matching the journal's ordering guarantee that a remove is never
// silently absorbed by a surrounding set.
func (a *Async) Remove(ctx context.Context, addr address.Address, sig block.RemoveSignature) error {
	return a.submit(&entry{addr: addr, kind: opRemove, sig: sig})
}

func (a *Async) submit(e *entry) error {
	a.mu.Lock()
	e.index = a.nextIndex
	a.nextIndex++
	a.coalesce(e)
	if err := writeJournalEntry(a.cfg.JournalDir, e); err != nil {
		a.mu.Unlock()
		return err
	}
	a.enqueue(e)
	a.publishDepth()
	a.mu.Unlock()

	select {
	case a.wake <- struct{}{}:
	default:
	}
	return nil
}

// coalesce must be called with mu held. It supersedes the address's
// last pending Set entry if e is itself a Set and the hop budget is not
// exhausted, chaining the superseded entry's resolver onto e as a
// fallback so neither caller's intent is silently dropped.
func (a *Async) coalesce(e *entry) {
	indices := a.byAddr[e.addr]
	if e.kind != opSet || len(indices) == 0 {
		return
	}
	lastIdx := indices[len(indices)-1]
	if a.hasInFlight && lastIdx == a.inFlightIdx {
		// already mid-delivery to the wrapped consensus; too late to
		// recall it, so the new entry simply queues behind it instead
		// of coalescing
		return
	}
	last, ok := a.inMemory[lastIdx]
	if !ok || last.superseded() || last.kind != opSet {
		return
	}
	if last.hop >= a.cfg.MaxHop {
		return
	}
	last.superSede()
	if e.fallback == nil {
		e.fallback = last.resolver
		if e.fallback == nil {
			e.fallback = last.fallback
		}
	}
	e.hop = last.hop + 1

	_ = removeJournalEntry(a.cfg.JournalDir, lastIdx)
	a.dequeueLocked(lastIdx, e.addr)
}

// enqueue must be called with mu held. Entries beyond QueueCapacity are
// tracked by index only — the drain loop re-reads them from disk when
// it reaches them — so memory stays bounded regardless of queue depth.
func (a *Async) enqueue(e *entry) {
	a.order = append(a.order, e.index)
	a.byAddr[e.addr] = append(a.byAddr[e.addr], e.index)
	if len(a.inMemory) < a.cfg.QueueCapacity {
		a.inMemory[e.index] = e
		return
	}
	metrics.AsyncJournalSpillsTotal.Inc()
}

func (a *Async) removeIndexLocked(idx uint64) {
	delete(a.inMemory, idx)
	for i, v := range a.order {
		if v == idx {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
}

func (a *Async) dequeueLocked(idx uint64, addr address.Address) {
	a.removeIndexLocked(idx)
	rest := a.byAddr[addr][:0]
	for _, v := range a.byAddr[addr] {
		if v != idx {
			rest = append(rest, v)
		}
	}
	if len(rest) == 0 {
		delete(a.byAddr, addr)
	} else {
		a.byAddr[addr] = rest
	}
}

// Fetch serves addr from the pending set if it has an in-flight entry,
// otherwise delegates to the wrapped consensus.
func (a *Async) Fetch(ctx context.Context, addr address.Address, localVersion *uint64) (block.Block, error) {
	a.mu.Lock()
	indices := a.byAddr[addr]
	if len(indices) == 0 {
		a.mu.Unlock()
		return a.next.Fetch(ctx, addr, localVersion)
	}
	lastIdx := indices[len(indices)-1]
	e, err := a.loadLocked(lastIdx)
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if e.kind == opRemove {
		return nil, dnerr.ErrMissingBlock
	}
	if localVersion != nil {
		if v, ok := block.Version(e.block); ok && v == *localVersion {
			return nil, nil
		}
	}
	return e.block, nil
}

// loadLocked returns the entry at idx, reading it from disk if it was
// spilled out of memory. Must be called with mu held.
func (a *Async) loadLocked(idx uint64) (*entry, error) {
	if e, ok := a.inMemory[idx]; ok {
		return e, nil
	}
	return readJournalEntry(a.cfg.JournalDir, idx)
}

func (e *entry) superseded() bool { return e.supersededFlag }
func (e *entry) superSede()       { e.supersededFlag = true }

// run is the single goroutine that drains the journal toward the
// wrapped consensus, in strict FIFO order per the queue's own ordering
// (not merely per address): the wrapped consensus never sees index i
// after it has already processed some index > i for the same address.
func (a *Async) run() {
	defer close(a.done)
	for {
		select {
		case <-a.stop:
			a.drainRemaining(context.Background())
			return
		case <-a.wake:
		}
		a.drainAvailable()
	}
}

func (a *Async) drainAvailable() {
	for {
		a.mu.Lock()
		if len(a.order) == 0 {
			a.mu.Unlock()
			return
		}
		idx := a.order[0]
		e, err := a.loadLocked(idx)
		if err != nil {
			a.removeIndexLocked(idx)
			a.mu.Unlock()
			continue
		}
		if e.superseded() {
			a.dequeueLocked(idx, e.addr)
			a.publishDepth()
			a.mu.Unlock()
			continue
		}
		a.hasInFlight = true
		a.inFlightIdx = idx
		a.mu.Unlock()

		select {
		case <-a.stop:
			a.mu.Lock()
			a.hasInFlight = false
			a.mu.Unlock()
			return
		default:
		}
		settled := a.process(context.Background(), e)

		a.mu.Lock()
		a.hasInFlight = false
		a.mu.Unlock()

		if !settled {
			// a retry has been scheduled after a backoff delay; stop
			// spinning on this entry until that wake fires
			return
		}
	}
}

func (a *Async) drainRemaining(ctx context.Context) {
	deadline := time.Now().Add(a.cfg.ShutdownDrainTimeout)
	for time.Now().Before(deadline) {
		a.mu.Lock()
		empty := len(a.order) == 0
		a.mu.Unlock()
		if empty {
			return
		}
		a.drainAvailable()
		time.Sleep(time.Millisecond)
	}
}

// process applies e to the wrapped consensus, chasing a conflict
// through e's resolver and then its chained fallback before giving up.
// It returns true once e is settled (delivered or dropped) and removed
// from the journal, false if a backoff retry was scheduled instead, in
// which case e is left in place for the drain loop to pick up again.
func (a *Async) process(ctx context.Context, e *entry) bool {
	var err error
	switch e.kind {
	case opSet:
		err = a.applySet(ctx, e)
	case opRemove:
		err = a.next.Remove(ctx, e.addr, e.sig)
		if errors.Is(err, dnerr.ErrMissingBlock) {
			err = nil
		}
	}

	if err != nil {
		e.attempts++
		if e.attempts < a.cfg.MaxRetries {
			go func() {
				time.Sleep(backoffFor(e.attempts))
				select {
				case a.wake <- struct{}{}:
				default:
				}
			}()
			return false
		}
		a.mu.Lock()
		a.dequeueLocked(e.index, e.addr)
		a.drops = append(a.drops, DroppedEntry{Index: e.index, Address: e.addr, Err: err})
		a.publishDepth()
		a.mu.Unlock()
		_ = removeJournalEntry(a.cfg.JournalDir, e.index)
		log.WithComponent("async").Error().Uint64("index", e.index).Str("address", e.addr.String()).Err(err).Msg("async: dropping journal entry after exhausting retries")
		return true
	}

	a.mu.Lock()
	a.dequeueLocked(e.index, e.addr)
	a.publishDepth()
	a.mu.Unlock()
	_ = removeJournalEntry(a.cfg.JournalDir, e.index)
	return true
}

func (a *Async) applySet(ctx context.Context, e *entry) error {
	resolver := e.resolver
	err := a.next.Store(ctx, e.block, e.mode, resolver)
	var conflict *dnerr.ConflictError
	if errors.As(err, &conflict) && e.fallback != nil {
		resolved, rerr := e.fallback(conflict.Current.(block.Block), e.block)
		if rerr != nil {
			return fmt.Errorf("async: fallback resolver: %w", rerr)
		}
		e.block = resolved
		return a.next.Store(ctx, e.block, e.mode, e.resolver)
	}
	return err
}

func backoffFor(attempt int) time.Duration {
	d := 10 * time.Millisecond << attempt
	if d > 2*time.Second {
		d = 2 * time.Second
	}
	return d
}

func (a *Async) publishDepth() {
	metrics.AsyncQueueDepth.Set(float64(len(a.order)))
}

// Drops returns and clears the entries abandoned after exhausting their
// retry budget since the last call, for an operator to inspect.
func (a *Async) Drops() []DroppedEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.drops
	a.drops = nil
	return out
}

// Close stops the drain goroutine, waiting up to ShutdownDrainTimeout
// for the pending queue to empty first; anything still pending is left
// on disk for the next call to New to replay.
func (a *Async) Close(ctx context.Context) error {
	close(a.stop)
	select {
	case <-a.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

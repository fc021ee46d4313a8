package paxos

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/cuemby/doughnut/pkg/address"
	"github.com/cuemby/doughnut/pkg/block"
	"github.com/cuemby/doughnut/pkg/consensus"
	"github.com/cuemby/doughnut/pkg/dnerr"
	"github.com/cuemby/doughnut/pkg/overlay"
	"github.com/cuemby/doughnut/pkg/silo"
)

// Config tunes the proposer side of a Paxos instance.
type Config struct {
	// ProposerID breaks proposal-number ties; typically the node's id.
	ProposerID string
	// ReplicationFactor is the quorum size chosen for a fresh address.
	ReplicationFactor int
	// MaxRounds bounds how many times a proposer bumps its proposal
	// number and retries before giving up with ErrTooFewPeers.
	MaxRounds int
	// BackoffBase is the starting delay between retried rounds; each
	// retry doubles it, plus jitter.
	BackoffBase time.Duration
	// QuorumFailureThreshold is the number of failed lookups of a quorum
	// member for an address, counted across independent decrees and
	// never reset, at which ShouldReconfigure reports true. Nothing in
	// this package calls Reconfigure on its own.
	QuorumFailureThreshold int
	// TombstoneTTL is carried in the configuration but no acceptor reads
	// it: a chosen tombstone's Paxos state is kept indefinitely.
	TombstoneTTL time.Duration
}

// DefaultConfig returns sane defaults; ProposerID must still be set.
func DefaultConfig() Config {
	return Config{
		ReplicationFactor:      3,
		MaxRounds:              5,
		BackoffBase:            20 * time.Millisecond,
		QuorumFailureThreshold: 3,
	}
}

// Dialer resolves an overlay Location to the Acceptor RPCs it exposes.
type Dialer interface {
	Dial(ctx context.Context, loc overlay.Location) (Acceptor, error)
}

// Paxos is a Consensus implementation backed by per-address single-decree
// Paxos across a quorum of Acceptors reached via Dialer.
type Paxos struct {
	cfg     Config
	overlay overlay.Overlay
	dialer  Dialer
	localID string
	local   Acceptor

	mu             sync.Mutex
	quorumFailures map[string]map[address.Address]int
}

// New creates a Paxos instance. localID is this node's overlay id; local
// is the Acceptor this node exposes for its own address space (so the
// proposer never dials itself over the network).
func New(cfg Config, ov overlay.Overlay, dialer Dialer, localID string, local Acceptor) *Paxos {
	return &Paxos{
		cfg:            cfg,
		overlay:        ov,
		dialer:         dialer,
		localID:        localID,
		local:          local,
		quorumFailures: make(map[string]map[address.Address]int),
	}
}

func (p *Paxos) acceptorFor(ctx context.Context, id string) (Acceptor, error) {
	if id == p.localID {
		return p.local, nil
	}
	loc, err := p.overlay.LookupNode(ctx, id)
	if err != nil {
		return nil, err
	}
	return p.dialer.Dial(ctx, loc)
}

// quorumFor returns the current quorum for addr, bootstrapping a fresh
// one via overlay.Allocate if no acceptor knows of this address yet.
func (p *Paxos) quorumFor(ctx context.Context, addr address.Address) (Quorum, error) {
	locs, err := p.overlay.Allocate(ctx, addr, p.cfg.ReplicationFactor)
	if err != nil {
		return Quorum{}, err
	}
	fresh := Quorum{}
	for _, l := range locs {
		fresh.Members = append(fresh.Members, l.ID)
	}

	best := fresh
	for _, id := range fresh.Members {
		acc, err := p.acceptorFor(ctx, id)
		if err != nil {
			continue
		}
		q, val, _, err := acc.FetchState(ctx, addr)
		if err != nil {
			continue
		}
		if val != nil && val.Kind == ValueQuorum {
			// a quorum reconfiguration may be more authoritative than
			// the one this acceptor itself currently enforces
			q = val.Reconfig
		}
		if len(q.Members) > 0 {
			// an acceptor with actual state wins over the bootstrap guess
			best = q
		}
	}
	return best, nil
}

// Store runs a full propose/accept round committing b.
func (p *Paxos) Store(ctx context.Context, b block.Block, mode silo.Mode, resolver consensus.Resolver) error {
	_ = mode // Paxos has no insert/update-only distinction; validation decides.
	value := Value{Kind: ValueBlock, Block: b}
	_, err := p.decree(ctx, b.Address(), value, resolver, func(current block.Block) (Value, error) {
		if resolver == nil {
			return Value{}, &dnerr.ConflictError{Current: current}
		}
		next, err := resolver(current, b)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: ValueBlock, Block: next}, nil
	})
	return err
}

// Fetch resolves addr's chosen value, if any. Non-block chosen values
// (a bare quorum reconfiguration with no block ever stored) report
// ErrMissingBlock.
func (p *Paxos) Fetch(ctx context.Context, addr address.Address, localVersion *uint64) (block.Block, error) {
	q, err := p.quorumFor(ctx, addr)
	if err != nil {
		return nil, err
	}
	if len(q.Members) == 0 {
		return nil, dnerr.ErrMissingBlock
	}

	var best *Value
	var bestN *Number
	reached := 0
	for _, id := range q.Members {
		acc, err := p.acceptorFor(ctx, id)
		if err != nil {
			p.recordFailure(id, addr)
			continue
		}
		reached++
		_, v, n, err := acc.FetchState(ctx, addr)
		if err != nil || v == nil {
			continue
		}
		// Mirror decree's Promise-phase comparison: the acceptor with
		// the highest accepted proposal number holds the most recent
		// value, so a stale acceptor answering first must not win.
		if best == nil || bestN.Less(n) {
			best = v
			bestN = &n
		}
	}
	if reached < q.majority() {
		return nil, dnerr.ErrTooFewPeers
	}
	if best == nil || best.Kind != ValueBlock || best.Block == nil {
		return nil, dnerr.ErrMissingBlock
	}
	if localVersion != nil {
		if v, ok := block.Version(best.Block); ok && v == *localVersion {
			return nil, nil
		}
	}
	return best.Block, nil
}

// Remove commits a tombstone decree authorized by sig: a ValueBlock
// with a nil Block, carrying sig for each acceptor to verify against
// the block it is actually deleting (block.Block.ValidateRemove, run
// inside LocalAcceptor.apply via the local peer) before applying it.
func (p *Paxos) Remove(ctx context.Context, addr address.Address, sig block.RemoveSignature) error {
	if _, err := p.Fetch(ctx, addr, nil); err != nil {
		return err
	}
	_, err := p.decree(ctx, addr, Value{Kind: ValueBlock, Block: nil, RemoveSig: &sig}, nil, nil)
	return err
}

// decree runs the core Paxos algorithm: propose/accept a majority on
// value, retrying with a fresh proposal number when outvoted by a
// concurrent proposer, and invoking onConflict (if supplied) when the
// acceptors' existing accepted value should instead be resolved against
// value before retrying.
func (p *Paxos) decree(ctx context.Context, addr address.Address, value Value, resolver consensus.Resolver, onConflict func(current block.Block) (Value, error)) (Value, error) {
	quorum, err := p.quorumFor(ctx, addr)
	if err != nil {
		return Value{}, err
	}
	if len(quorum.Members) == 0 {
		quorum.Members = []string{p.localID}
	}

	round := uint64(1)
	// seen is the highest round an acceptor has reported promising when
	// rejecting us; proposal numbers are chosen above it.
	var seen uint64
	for attempt := 0; attempt < p.cfg.MaxRounds; attempt++ {
		n := Number{Round: seen + round, ProposerID: p.cfg.ProposerID}

		promises := 0
		var highest *Number
		var highestVal *Value
		reached := 0
		for _, id := range quorum.Members {
			acc, err := p.acceptorFor(ctx, id)
			if err != nil {
				p.recordFailure(id, addr)
				continue
			}
			reached++
			ok, acceptedN, acceptedV, _, err := acc.Promise(ctx, quorum, addr, n)
			if err != nil {
				continue
			}
			if ok {
				promises++
				if acceptedV != nil && (highest == nil || highest.Less(acceptedN)) {
					highest = &acceptedN
					highestVal = acceptedV
				}
			} else if acceptedN.Round > seen {
				seen = acceptedN.Round
			}
		}
		if reached < quorum.majority() {
			return Value{}, dnerr.ErrTooFewPeers
		}
		if promises < quorum.majority() {
			round = p.backoff(ctx, round)
			continue
		}

		toPropose := value
		if highestVal != nil {
			toPropose = *highestVal
			// A tombstone, or a block exactly one version past the accepted
			// one, is the next decree at this address rather than a rival
			// to the value already accepted.
			if value.Kind == ValueBlock && highestVal.Kind == ValueBlock && highestVal.Block != nil {
				hv, hok := block.Version(highestVal.Block)
				if value.Block == nil {
					toPropose = value
				} else if nv, ok := block.Version(value.Block); ok && hok && nv == hv+1 {
					toPropose = value
				}
			}
		}

		accepts := 0
		for _, id := range quorum.Members {
			acc, err := p.acceptorFor(ctx, id)
			if err != nil {
				continue
			}
			ok, _, err := acc.Accept(ctx, quorum, addr, n, toPropose)
			if err != nil {
				continue
			}
			if ok {
				accepts++
			}
		}
		if accepts < quorum.majority() {
			round = p.backoff(ctx, round)
			continue
		}

		if valuesEqual(toPropose, value) {
			return toPropose, nil
		}

		// lost the round to a concurrent proposer's value
		if toPropose.Kind == ValueQuorum {
			quorum = toPropose.Reconfig
			continue
		}
		if onConflict != nil {
			nextValue, err := onConflict(toPropose.Block)
			if err != nil {
				return Value{}, err
			}
			value = nextValue
			round = p.backoff(ctx, round)
			continue
		}
		return Value{}, &dnerr.ConflictError{Current: toPropose.Block}
	}
	return Value{}, dnerr.ErrTooFewPeers
}

func valuesEqual(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	if a.Kind == ValueQuorum {
		return fmt.Sprint(a.Reconfig) == fmt.Sprint(b.Reconfig)
	}
	if a.Block == nil || b.Block == nil {
		return a.Block == b.Block
	}
	return a.Block.Address() == b.Block.Address() && fmt.Sprint(a.Block.Payload()) == fmt.Sprint(b.Block.Payload())
}

func (p *Paxos) backoff(ctx context.Context, round uint64) uint64 {
	delay := p.cfg.BackoffBase << round
	delay += time.Duration(rand.Int63n(int64(p.cfg.BackoffBase + 1)))
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
	return round + 1
}

// recordFailure counts a failed lookup of id for addr (the count is
// cumulative; a later success does not reset it);
// once it crosses QuorumFailureThreshold a caller polling
// ShouldReconfigure can trigger a quorum-reconfiguration decree.
func (p *Paxos) recordFailure(id string, addr address.Address) {
	p.mu.Lock()
	defer p.mu.Unlock()
	byAddr, ok := p.quorumFailures[id]
	if !ok {
		byAddr = make(map[address.Address]int)
		p.quorumFailures[id] = byAddr
	}
	byAddr[addr]++
}

// ShouldReconfigure reports whether id has failed enough lookups for
// addr to warrant proposing a quorum reconfiguration dropping
// it, per the configured threshold.
func (p *Paxos) ShouldReconfigure(id string, addr address.Address) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.quorumFailures[id][addr] >= p.cfg.QuorumFailureThreshold
}

// Reconfigure proposes dropping failedID from addr's quorum, replacing
// it with a freshly allocated member.
func (p *Paxos) Reconfigure(ctx context.Context, addr address.Address, failedID string) error {
	current, err := p.quorumFor(ctx, addr)
	if err != nil {
		return err
	}
	next := Quorum{}
	for _, id := range current.Members {
		if id != failedID {
			next.Members = append(next.Members, id)
		}
	}
	candidates, err := p.overlay.Allocate(ctx, addr, p.cfg.ReplicationFactor)
	if err != nil {
		return err
	}
	for _, c := range candidates {
		if len(next.Members) >= p.cfg.ReplicationFactor {
			break
		}
		found := false
		for _, id := range next.Members {
			if id == c.ID {
				found = true
				break
			}
		}
		if !found {
			next.Members = append(next.Members, c.ID)
		}
	}
	_, err = p.decree(ctx, addr, Value{Kind: ValueQuorum, Reconfig: next}, nil, nil)
	return err
}

// Package paxos implements per-address single-decree Paxos over the
// Doughnut block store: each mutable address has its own independent
// acceptor state and quorum, decided the first time a block (or a
// quorum reconfiguration) is proposed for it.
package paxos

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/cuemby/doughnut/pkg/block"
)

// Number is a Paxos proposal number: ordered first by Round, then by
// ProposerID as a deterministic tie-break, matching the lexicographic
// (round, proposer_id) ordering.
type Number struct {
	Round      uint64
	ProposerID string
}

// Less reports whether n sorts strictly before other.
func (n Number) Less(other Number) bool {
	if n.Round != other.Round {
		return n.Round < other.Round
	}
	return n.ProposerID < other.ProposerID
}

func (n Number) String() string {
	return fmt.Sprintf("%d/%s", n.Round, n.ProposerID)
}

// Quorum is the set of acceptor node ids responsible for a given address.
// A decided Quorum value supersedes the quorum used to decide it.
type Quorum struct {
	Members []string
}

func (q Quorum) majority() int {
	return len(q.Members)/2 + 1
}

// Value is either a proposed Block or a proposed Quorum reconfiguration.
// Exactly one of Block/Reconfig is set, selected by Kind. A ValueBlock
// with a nil Block and a non-nil RemoveSig is a tombstone decree: the
// address's block is deleted rather than replaced once chosen.
type Value struct {
	Kind      ValueKind
	Block     block.Block
	RemoveSig *block.RemoveSignature
	Reconfig  Quorum
}

type ValueKind byte

const (
	ValueBlock ValueKind = iota + 1
	ValueQuorum
)

// wireValue mirrors Value for gob purposes; block.Block is an interface
// so it is encoded through block.EncodeBlock rather than gob directly.
type wireValue struct {
	Kind         ValueKind
	BlockWire    []byte
	HasRemoveSig bool
	RemoveSig    block.RemoveSignature
	Reconfig     Quorum
}

func encodeValue(v Value) ([]byte, error) {
	wv := wireValue{Kind: v.Kind, Reconfig: v.Reconfig}
	if v.Kind == ValueBlock && v.Block != nil {
		data, err := block.EncodeBlock(v.Block)
		if err != nil {
			return nil, fmt.Errorf("paxos: encode value block: %w", err)
		}
		wv.BlockWire = data
	}
	if v.RemoveSig != nil {
		wv.HasRemoveSig = true
		wv.RemoveSig = *v.RemoveSig
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(wv); err != nil {
		return nil, fmt.Errorf("paxos: encode value: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeValue(data []byte) (Value, error) {
	var wv wireValue
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&wv); err != nil {
		return Value{}, fmt.Errorf("paxos: decode value: %w", err)
	}
	v := Value{Kind: wv.Kind, Reconfig: wv.Reconfig}
	if wv.Kind == ValueBlock && len(wv.BlockWire) > 0 {
		b, err := block.DecodeBlock(wv.BlockWire)
		if err != nil {
			return Value{}, fmt.Errorf("paxos: decode value block: %w", err)
		}
		v.Block = b
	}
	if wv.HasRemoveSig {
		sig := wv.RemoveSig
		v.RemoveSig = &sig
	}
	return v, nil
}

// State is one address's acceptor-side Paxos state, persisted in the
// Silo under a derived key (see StateAddress). Accepted is this
// acceptor's own highest-numbered accepted value — what fetch_paxos
// reports as Option<Accepted> — not necessarily the value a majority
// has settled on; that determination lives in the proposer's decree
// loop, which only treats a value as decided once it collects accept
// acknowledgements from a majority of the quorum in a single round.
type State struct {
	Quorum      Quorum
	HasPromised bool
	Promised    Number
	HasAccept   bool
	AcceptedN   Number
	Accepted    Value
}

// wireState mirrors State with its Value field pre-serialized, since
// Value.Block is an interface gob cannot encode without a registered
// concrete type — the same reason block.EncodeBlock dispatches by Kind
// instead of relying on gob's own interface support.
type wireState struct {
	Quorum       Quorum
	HasPromised  bool
	Promised     Number
	HasAccept    bool
	AcceptedN    Number
	AcceptedWire []byte
}

func encodeState(st State) ([]byte, error) {
	ws := wireState{
		Quorum:      st.Quorum,
		HasPromised: st.HasPromised,
		Promised:    st.Promised,
		HasAccept:   st.HasAccept,
		AcceptedN:   st.AcceptedN,
	}
	if st.HasAccept {
		data, err := encodeValue(st.Accepted)
		if err != nil {
			return nil, err
		}
		ws.AcceptedWire = data
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(ws); err != nil {
		return nil, fmt.Errorf("paxos: encode state: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeState(data []byte) (State, error) {
	var ws wireState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&ws); err != nil {
		return State{}, fmt.Errorf("paxos: decode state: %w", err)
	}
	st := State{
		Quorum:      ws.Quorum,
		HasPromised: ws.HasPromised,
		Promised:    ws.Promised,
		HasAccept:   ws.HasAccept,
		AcceptedN:   ws.AcceptedN,
	}
	if ws.HasAccept {
		v, err := decodeValue(ws.AcceptedWire)
		if err != nil {
			return State{}, err
		}
		st.Accepted = v
	}
	return st, nil
}

package dock

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/cuemby/doughnut/pkg/address"
	"github.com/cuemby/doughnut/pkg/block"
	"github.com/cuemby/doughnut/pkg/consensus/paxos"
	"github.com/cuemby/doughnut/pkg/security"
	"github.com/cuemby/doughnut/pkg/silo"
)

// HelloRequest opens a handshake: the caller presents its claimed
// identity and a nonce for the callee to sign, proving key possession.
type HelloRequest struct {
	NodeID    string
	PublicKey block.PublicKey
	Passport  security.Passport
	Challenge security.Challenge
}

// HelloResponse answers with the callee's own identity, its signature
// over the caller's nonce, and a nonce of its own for the caller to
// answer in ConfirmRequest — completing mutual proof of possession in
// two calls instead of a three-way exchange.
type HelloResponse struct {
	NodeID            string
	PublicKey         block.PublicKey
	Passport          security.Passport
	ChallengeResponse []byte
	Challenge         security.Challenge
}

// ConfirmRequest answers the Challenge from a HelloResponse.
type ConfirmRequest struct {
	NodeID            string
	ChallengeResponse []byte
}

// ConfirmResponse reports whether the handshake completed successfully.
type ConfirmResponse struct {
	OK bool
}

// PromiseRequest carries a Paxos phase 1a proposal.
type PromiseRequest struct {
	Quorum  paxos.Quorum
	Address address.Address
	Number  paxos.Number
}

// PromiseResponse mirrors paxos.Acceptor.Promise's return values, with
// the accepted value (if any) pre-serialized since paxos.Value embeds a
// block.Block interface gob cannot encode directly.
type PromiseResponse struct {
	Promised      bool
	AcceptedN     paxos.Number
	HasAcceptedV  bool
	AcceptedWire  []byte
	CurrentQuorum paxos.Quorum
}

// AcceptRequest carries a Paxos phase 2a proposal.
type AcceptRequest struct {
	Quorum    paxos.Quorum
	Address   address.Address
	Number    paxos.Number
	ValueWire []byte
}

// AcceptResponse mirrors paxos.Acceptor.Accept's return values.
type AcceptResponse struct {
	Accepted bool
	CurrentN paxos.Number
}

// FetchStateRequest is the fetch_paxos RPC.
type FetchStateRequest struct {
	Address address.Address
}

// FetchStateResponse mirrors paxos.Acceptor.FetchState's return values.
type FetchStateResponse struct {
	Quorum    paxos.Quorum
	HasValue  bool
	ValueWire []byte
	AcceptedN paxos.Number
}

// StoreRequest is the local peer's store RPC surface, used by repair
// tooling and by a proposer applying a decree against a remote acceptor
// that exposes its local.Peer directly rather than only through Paxos.
type StoreRequest struct {
	BlockWire []byte
	Mode      silo.Mode
}

// StoreResponse carries no payload; an RPC error signals failure.
type StoreResponse struct{}

// FetchRequest is the local peer's fetch RPC surface.
type FetchRequest struct {
	Address         address.Address
	HasLocalVersion bool
	LocalVersion    uint64
}

// FetchResponse carries the fetched block, pre-serialized. HasBlock is
// false both when nothing exists at the address and when LocalVersion
// already matched — the caller cannot tell these apart from this RPC
// alone, matching local.Peer.Fetch's own (nil, nil) ambiguity.
type FetchResponse struct {
	HasBlock  bool
	BlockWire []byte
}

// RemoveRequest is the local peer's remove RPC surface.
type RemoveRequest struct {
	Address address.Address
	Sig     block.RemoveSignature
}

// RemoveResponse carries no payload; an RPC error signals failure.
type RemoveResponse struct{}

// PingRequest/PingResponse implement the heartbeat RPC.
type PingRequest struct {
	NodeID string
}

type PingResponse struct {
	NodeID string
}

// ResolveKeyRequest is the keychain short-hash resolution RPC
// (keychain.Fetch's wire form).
type ResolveKeyRequest struct {
	Hash [block.ShortHashSize]byte
}

type ResolveKeyResponse struct {
	PublicKey block.PublicKey
	Found     bool
}

// wireValue is dock's own gob envelope for paxos.Value, independent of
// paxos's internal (unexported) wireValue but identical in shape: the
// Block field is an interface, so it travels as pre-encoded bytes via
// block.EncodeBlock/DecodeBlock rather than through gob's own
// interface support.
type wireValue struct {
	Kind         paxos.ValueKind
	BlockWire    []byte
	HasRemoveSig bool
	RemoveSig    block.RemoveSignature
	Reconfig     paxos.Quorum
}

func encodeValue(v paxos.Value) ([]byte, error) {
	wv := wireValue{Kind: v.Kind, Reconfig: v.Reconfig}
	if v.Kind == paxos.ValueBlock && v.Block != nil {
		data, err := block.EncodeBlock(v.Block)
		if err != nil {
			return nil, fmt.Errorf("dock: encode value block: %w", err)
		}
		wv.BlockWire = data
	}
	if v.RemoveSig != nil {
		wv.HasRemoveSig = true
		wv.RemoveSig = *v.RemoveSig
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(wv); err != nil {
		return nil, fmt.Errorf("dock: encode value: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeValue(data []byte) (paxos.Value, error) {
	var wv wireValue
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&wv); err != nil {
		return paxos.Value{}, fmt.Errorf("dock: decode value: %w", err)
	}
	v := paxos.Value{Kind: wv.Kind, Reconfig: wv.Reconfig}
	if wv.Kind == paxos.ValueBlock && len(wv.BlockWire) > 0 {
		b, err := block.DecodeBlock(wv.BlockWire)
		if err != nil {
			return paxos.Value{}, fmt.Errorf("dock: decode value block: %w", err)
		}
		v.Block = b
	}
	if wv.HasRemoveSig {
		sig := wv.RemoveSig
		v.RemoveSig = &sig
	}
	return v, nil
}

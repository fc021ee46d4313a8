package dock

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cuemby/doughnut/pkg/address"
	"github.com/cuemby/doughnut/pkg/block"
	"github.com/cuemby/doughnut/pkg/consensus/paxos"
	"github.com/cuemby/doughnut/pkg/keychain"
	"github.com/cuemby/doughnut/pkg/metrics"
	"github.com/cuemby/doughnut/pkg/security"
	"github.com/cuemby/doughnut/pkg/silo"
)

// State is a Connection's lifecycle stage.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Connection is a single dialed channel to one peer, authenticated via
// the passport handshake and carrying that peer's keychain for the
// life of the connection — a fresh Connection always starts with an
// empty Keychain, since what the two sides have already exchanged in
// full is connection-scoped state, not durable identity.
type Connection struct {
	cc       *grpc.ClientConn
	nodeID   string // the remote peer's node id, once handshaken
	pub      block.PublicKey
	keychain *keychain.Keychain
	state    State
}

// DialOptions configures how a Connection authenticates itself during
// the handshake.
type DialOptions struct {
	NodeID     string
	PublicKey  block.PublicKey
	PrivateKey block.PrivateKey
	Passport   security.Passport
	// Authority verifies the passport the remote peer presents in its
	// HelloResponse, mirroring the check Server.hello performs on the
	// passport this side presents.
	Authority *security.PassportAuthority
	// TLSOption, if set, is used instead of insecure transport
	// credentials — production deployments should always supply mTLS
	// credentials built from security.CertAuthority.
	TLSOption grpc.DialOption
}

// Dial opens a gRPC channel to endpoint and performs the mutual
// handshake, returning a connected Connection or an error if either
// side's identity fails to verify.
func Dial(ctx context.Context, endpoint string, opts DialOptions) (*Connection, error) {
	dialOpt := opts.TLSOption
	if dialOpt == nil {
		dialOpt = grpc.WithTransportCredentials(insecure.NewCredentials())
	}
	cc, err := grpc.NewClient(endpoint,
		dialOpt,
		grpc.WithDefaultCallOptions(grpc.ForceCodec(gobCodec{})),
	)
	if err != nil {
		return nil, fmt.Errorf("dock: dial %s: %w", endpoint, err)
	}

	conn := &Connection{cc: cc, keychain: keychain.New(), state: StateConnecting}
	if err := conn.handshake(ctx, opts); err != nil {
		_ = cc.Close()
		return nil, err
	}
	metrics.DockConnectionsTotal.WithLabelValues(StateConnected.String()).Inc()
	return conn, nil
}

func (c *Connection) handshake(ctx context.Context, opts DialOptions) error {
	challenge, err := security.NewChallenge()
	if err != nil {
		return err
	}
	helloReq := &HelloRequest{
		NodeID:    opts.NodeID,
		PublicKey: opts.PublicKey,
		Passport:  opts.Passport,
		Challenge: challenge,
	}
	helloResp := new(HelloResponse)
	if err := c.cc.Invoke(ctx, rpcPath("Hello"), helloReq, helloResp); err != nil {
		return fmt.Errorf("dock: hello: %w", err)
	}
	if helloResp.Passport.NodeID != helloResp.NodeID || !helloResp.Passport.PublicKey.Equal(helloResp.PublicKey) {
		return fmt.Errorf("dock: peer's passport does not match its claimed identity")
	}
	if opts.Authority != nil {
		if err := opts.Authority.Verify(&helloResp.Passport); err != nil {
			return fmt.Errorf("dock: verify peer passport: %w", err)
		}
	}
	if !security.VerifyResponse(helloResp.PublicKey, challenge, helloResp.ChallengeResponse) {
		return fmt.Errorf("dock: peer failed to prove possession of its claimed key")
	}

	confirmReq := &ConfirmRequest{
		NodeID:            opts.NodeID,
		ChallengeResponse: security.Respond(opts.PrivateKey, helloResp.Challenge),
	}
	confirmResp := new(ConfirmResponse)
	if err := c.cc.Invoke(ctx, rpcPath("Confirm"), confirmReq, confirmResp); err != nil {
		return fmt.Errorf("dock: confirm: %w", err)
	}
	if !confirmResp.OK {
		return fmt.Errorf("dock: peer rejected handshake confirmation")
	}

	c.nodeID = helloResp.NodeID
	c.pub = helloResp.PublicKey
	c.state = StateConnected
	return nil
}

func rpcPath(method string) string {
	return "/" + ServiceName + "/" + method
}

// NodeID returns the remote peer's node id, valid once the handshake
// has completed.
func (c *Connection) NodeID() string { return c.nodeID }

// Keychain returns this connection's private short-hash cache.
func (c *Connection) Keychain() *keychain.Keychain { return c.keychain }

// State reports the connection's current lifecycle stage.
func (c *Connection) State() State { return c.state }

// Close tears down the underlying channel.
func (c *Connection) Close() error {
	c.state = StateDisconnected
	metrics.DockConnectionsTotal.WithLabelValues(StateDisconnected.String()).Inc()
	return c.cc.Close()
}

func (c *Connection) call(ctx context.Context, method string, req, resp interface{}) error {
	start := time.Now()
	err := c.cc.Invoke(ctx, rpcPath(method), req, resp)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.DockRPCRequestsTotal.WithLabelValues(method, status).Inc()
	metrics.DockRPCDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	return err
}

// Promise issues the Paxos phase 1a RPC.
func (c *Connection) Promise(ctx context.Context, quorum paxos.Quorum, addr address.Address, n paxos.Number) (bool, paxos.Number, *paxos.Value, paxos.Quorum, error) {
	req := &PromiseRequest{Quorum: quorum, Address: addr, Number: n}
	resp := new(PromiseResponse)
	if err := c.call(ctx, "Promise", req, resp); err != nil {
		return false, paxos.Number{}, nil, paxos.Quorum{}, err
	}
	var v *paxos.Value
	if resp.HasAcceptedV {
		decoded, err := decodeValue(resp.AcceptedWire)
		if err != nil {
			return false, paxos.Number{}, nil, paxos.Quorum{}, err
		}
		v = &decoded
	}
	return resp.Promised, resp.AcceptedN, v, resp.CurrentQuorum, nil
}

// Accept issues the Paxos phase 2a RPC.
func (c *Connection) Accept(ctx context.Context, quorum paxos.Quorum, addr address.Address, n paxos.Number, v paxos.Value) (bool, paxos.Number, error) {
	wire, err := encodeValue(v)
	if err != nil {
		return false, paxos.Number{}, err
	}
	req := &AcceptRequest{Quorum: quorum, Address: addr, Number: n, ValueWire: wire}
	resp := new(AcceptResponse)
	if err := c.call(ctx, "Accept", req, resp); err != nil {
		return false, paxos.Number{}, err
	}
	return resp.Accepted, resp.CurrentN, nil
}

// FetchState issues the fetch_paxos RPC.
func (c *Connection) FetchState(ctx context.Context, addr address.Address) (paxos.Quorum, *paxos.Value, paxos.Number, error) {
	req := &FetchStateRequest{Address: addr}
	resp := new(FetchStateResponse)
	if err := c.call(ctx, "FetchState", req, resp); err != nil {
		return paxos.Quorum{}, nil, paxos.Number{}, err
	}
	var v *paxos.Value
	if resp.HasValue {
		decoded, err := decodeValue(resp.ValueWire)
		if err != nil {
			return paxos.Quorum{}, nil, paxos.Number{}, err
		}
		v = &decoded
	}
	return resp.Quorum, v, resp.AcceptedN, nil
}

// Store issues the local peer's remote store RPC.
func (c *Connection) Store(ctx context.Context, b block.Block, mode silo.Mode) error {
	wire, err := block.EncodeBlock(b)
	if err != nil {
		return err
	}
	req := &StoreRequest{BlockWire: wire, Mode: mode}
	return c.call(ctx, "Store", req, new(StoreResponse))
}

// Fetch issues the local peer's remote fetch RPC.
func (c *Connection) Fetch(ctx context.Context, addr address.Address, localVersion *uint64) (block.Block, error) {
	req := &FetchRequest{Address: addr}
	if localVersion != nil {
		req.HasLocalVersion = true
		req.LocalVersion = *localVersion
	}
	resp := new(FetchResponse)
	if err := c.call(ctx, "Fetch", req, resp); err != nil {
		return nil, err
	}
	if !resp.HasBlock {
		return nil, nil
	}
	return block.DecodeBlock(resp.BlockWire)
}

// Remove issues the local peer's remote remove RPC.
func (c *Connection) Remove(ctx context.Context, addr address.Address, sig block.RemoveSignature) error {
	req := &RemoveRequest{Address: addr, Sig: sig}
	return c.call(ctx, "Remove", req, new(RemoveResponse))
}

// Ping issues the heartbeat RPC.
func (c *Connection) Ping(ctx context.Context) error {
	req := &PingRequest{NodeID: c.nodeID}
	resp := new(PingResponse)
	if err := c.call(ctx, "Ping", req, resp); err != nil {
		return err
	}
	if resp.NodeID != c.nodeID {
		return fmt.Errorf("dock: ping reply from unexpected node %q, expected %q", resp.NodeID, c.nodeID)
	}
	return nil
}

// KeyHashLookup resolves a short hash against the peer, the
// keychain.Fetch implementation this connection supplies to its
// keychain.Keychain.Resolve calls.
func (c *Connection) KeyHashLookup(ctx context.Context, hash [block.ShortHashSize]byte) (block.PublicKey, error) {
	req := &ResolveKeyRequest{Hash: hash}
	resp := new(ResolveKeyResponse)
	if err := c.call(ctx, "ResolveKey", req, resp); err != nil {
		return nil, err
	}
	if !resp.Found {
		return nil, fmt.Errorf("dock: peer has no key for the requested short hash")
	}
	return resp.PublicKey, nil
}

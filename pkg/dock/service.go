package dock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"

	"github.com/cuemby/doughnut/pkg/block"
	"github.com/cuemby/doughnut/pkg/consensus/paxos"
	"github.com/cuemby/doughnut/pkg/events"
	"github.com/cuemby/doughnut/pkg/keychain"
	"github.com/cuemby/doughnut/pkg/local"
	"github.com/cuemby/doughnut/pkg/metrics"
	"github.com/cuemby/doughnut/pkg/security"
	"github.com/cuemby/doughnut/pkg/storage"
)

// PassportValidity is how long a Server's self-issued passport remains
// valid before it must be reissued.
const PassportValidity = 24 * time.Hour

// Server is the gRPC-side implementation exposed by a node: it answers
// Paxos acceptor RPCs against acceptor, local peer RPCs against peer,
// and drives the handshake and heartbeat protocol.
type Server struct {
	nodeID    string
	pub       block.PublicKey
	priv      block.PrivateKey
	authority *security.PassportAuthority
	passport  *security.Passport
	acceptor  paxos.Acceptor
	peer      *local.Peer
	broker    *events.Broker
	store     storage.Store

	mu        sync.Mutex
	peers     map[string]block.PublicKey
	pending   map[string]security.Challenge
	keychains map[string]*keychain.Keychain
}

// NewServer builds a Server for this node's identity, issuing its own
// passport from authority so it can present proof of identity to any
// peer that calls Hello. store durably records every peer public key
// this node learns via Hello, so a restarted node can still answer
// ResolveKey for a peer it hasn't reconnected to yet.
func NewServer(nodeID string, pub block.PublicKey, priv block.PrivateKey, authority *security.PassportAuthority, acceptor paxos.Acceptor, peer *local.Peer, broker *events.Broker, store storage.Store) (*Server, error) {
	passport, err := authority.Issue(nodeID, pub, PassportValidity)
	if err != nil {
		return nil, fmt.Errorf("dock: issue self passport: %w", err)
	}
	return &Server{
		nodeID:    nodeID,
		pub:       pub,
		priv:      priv,
		authority: authority,
		passport:  passport,
		acceptor:  acceptor,
		peer:      peer,
		broker:    broker,
		store:     store,
		peers:     make(map[string]block.PublicKey),
		pending:   make(map[string]security.Challenge),
		keychains: make(map[string]*keychain.Keychain),
	}, nil
}

// KeychainFor returns the Keychain this server maintains for the given
// remote node id, creating one on first use. It is used to answer a
// remote ResolveKey call using keys that peer has already introduced.
func (s *Server) KeychainFor(nodeID string) *keychain.Keychain {
	s.mu.Lock()
	defer s.mu.Unlock()
	kc, ok := s.keychains[nodeID]
	if !ok {
		kc = keychain.New()
		s.keychains[nodeID] = kc
	}
	return kc
}

func (s *Server) registerPeer(nodeID string, pub block.PublicKey) error {
	s.mu.Lock()
	s.peers[nodeID] = pub
	s.mu.Unlock()
	if s.store == nil {
		return nil
	}
	entry := storage.KeychainEntry{ShortHash: block.ShortHash(pub), FullKey: []byte(pub)}
	if err := s.store.PutKeychainEntry(entry); err != nil {
		return fmt.Errorf("dock: persist peer key: %w", err)
	}
	return nil
}

func (s *Server) hello(ctx context.Context, req *HelloRequest) (*HelloResponse, error) {
	if req.Passport.NodeID != req.NodeID || !req.Passport.PublicKey.Equal(req.PublicKey) {
		return nil, fmt.Errorf("dock: passport does not match claimed identity")
	}
	if err := s.authority.Verify(&req.Passport); err != nil {
		return nil, fmt.Errorf("dock: verify passport: %w", err)
	}
	if err := s.registerPeer(req.NodeID, req.PublicKey); err != nil {
		return nil, err
	}

	challenge, err := security.NewChallenge()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.pending[req.NodeID] = challenge
	s.mu.Unlock()

	return &HelloResponse{
		NodeID:            s.nodeID,
		PublicKey:         s.pub,
		Passport:          *s.passport,
		ChallengeResponse: security.Respond(s.priv, req.Challenge),
		Challenge:         challenge,
	}, nil
}

func (s *Server) confirm(ctx context.Context, req *ConfirmRequest) (*ConfirmResponse, error) {
	s.mu.Lock()
	challenge, ok := s.pending[req.NodeID]
	pub := s.peers[req.NodeID]
	delete(s.pending, req.NodeID)
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("dock: no pending handshake for %s", req.NodeID)
	}
	if !security.VerifyResponse(pub, challenge, req.ChallengeResponse) {
		return nil, fmt.Errorf("dock: challenge response verification failed")
	}
	if s.broker != nil {
		s.broker.Publish(&events.Event{Type: events.EventConnected, Message: req.NodeID})
	}
	return &ConfirmResponse{OK: true}, nil
}

func (s *Server) promise(ctx context.Context, req *PromiseRequest) (*PromiseResponse, error) {
	promised, acceptedN, acceptedV, currentQuorum, err := s.acceptor.Promise(ctx, req.Quorum, req.Address, req.Number)
	if err != nil {
		return nil, err
	}
	resp := &PromiseResponse{Promised: promised, AcceptedN: acceptedN, CurrentQuorum: currentQuorum}
	if acceptedV != nil {
		wire, err := encodeValue(*acceptedV)
		if err != nil {
			return nil, err
		}
		resp.HasAcceptedV = true
		resp.AcceptedWire = wire
	}
	return resp, nil
}

func (s *Server) accept(ctx context.Context, req *AcceptRequest) (*AcceptResponse, error) {
	v, err := decodeValue(req.ValueWire)
	if err != nil {
		return nil, err
	}
	accepted, currentN, err := s.acceptor.Accept(ctx, req.Quorum, req.Address, req.Number, v)
	if err != nil {
		return nil, err
	}
	return &AcceptResponse{Accepted: accepted, CurrentN: currentN}, nil
}

func (s *Server) fetchState(ctx context.Context, req *FetchStateRequest) (*FetchStateResponse, error) {
	quorum, v, acceptedN, err := s.acceptor.FetchState(ctx, req.Address)
	if err != nil {
		return nil, err
	}
	resp := &FetchStateResponse{Quorum: quorum, AcceptedN: acceptedN}
	if v != nil {
		wire, err := encodeValue(*v)
		if err != nil {
			return nil, err
		}
		resp.HasValue = true
		resp.ValueWire = wire
	}
	return resp, nil
}

func (s *Server) store(ctx context.Context, req *StoreRequest) (*StoreResponse, error) {
	b, err := block.DecodeBlock(req.BlockWire)
	if err != nil {
		return nil, err
	}
	if err := s.peer.Store(ctx, b, req.Mode); err != nil {
		return nil, err
	}
	return &StoreResponse{}, nil
}

func (s *Server) fetch(ctx context.Context, req *FetchRequest) (*FetchResponse, error) {
	var localVersion *uint64
	if req.HasLocalVersion {
		localVersion = &req.LocalVersion
	}
	b, err := s.peer.Fetch(ctx, req.Address, localVersion)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return &FetchResponse{}, nil
	}
	wire, err := block.EncodeBlock(b)
	if err != nil {
		return nil, err
	}
	return &FetchResponse{HasBlock: true, BlockWire: wire}, nil
}

func (s *Server) remove(ctx context.Context, req *RemoveRequest) (*RemoveResponse, error) {
	if err := s.peer.Remove(ctx, req.Address, req.Sig); err != nil {
		return nil, err
	}
	return &RemoveResponse{}, nil
}

func (s *Server) ping(ctx context.Context, req *PingRequest) (*PingResponse, error) {
	return &PingResponse{NodeID: s.nodeID}, nil
}

func (s *Server) resolveKey(ctx context.Context, req *ResolveKeyRequest) (*ResolveKeyResponse, error) {
	s.mu.Lock()
	for _, pub := range s.peers {
		if block.ShortHash(pub) == req.Hash {
			s.mu.Unlock()
			return &ResolveKeyResponse{PublicKey: pub, Found: true}, nil
		}
	}
	s.mu.Unlock()
	if block.ShortHash(s.pub) == req.Hash {
		return &ResolveKeyResponse{PublicKey: s.pub, Found: true}, nil
	}
	if s.store != nil {
		if entry, ok, err := s.store.GetKeychainEntry(req.Hash); err == nil && ok {
			return &ResolveKeyResponse{PublicKey: block.PublicKey(entry.FullKey), Found: true}, nil
		}
	}
	return &ResolveKeyResponse{Found: false}, nil
}

func unaryHandler[Req any, Resp any](method string, fn func(s *Server, ctx context.Context, req *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			start := time.Now()
			req := new(Req)
			if err := dec(req); err != nil {
				return nil, err
			}
			s := srv.(*Server)
			run := func(ctx context.Context, req interface{}) (interface{}, error) {
				return fn(s, ctx, req.(*Req))
			}
			var (
				resp interface{}
				err  error
			)
			if interceptor != nil {
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/" + method}
				resp, err = interceptor(ctx, req, info, run)
			} else {
				resp, err = run(ctx, req)
			}
			status := "ok"
			if err != nil {
				status = "error"
			}
			metrics.DockRPCRequestsTotal.WithLabelValues(method, status).Inc()
			metrics.DockRPCDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
			return resp, err
		},
	}
}

// ServiceName is the gRPC service path every RPC is registered under.
const ServiceName = "dock.Dock"

// ServiceDesc describes the Dock RPC surface for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("Hello", (*Server).hello),
		unaryHandler("Confirm", (*Server).confirm),
		unaryHandler("Promise", (*Server).promise),
		unaryHandler("Accept", (*Server).accept),
		unaryHandler("FetchState", (*Server).fetchState),
		unaryHandler("Store", (*Server).store),
		unaryHandler("Fetch", (*Server).fetch),
		unaryHandler("Remove", (*Server).remove),
		unaryHandler("Ping", (*Server).ping),
		unaryHandler("ResolveKey", (*Server).resolveKey),
	},
}

package doughnut

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"google.golang.org/grpc"

	"github.com/cuemby/doughnut/pkg/block"
	"github.com/cuemby/doughnut/pkg/consensus"
	"github.com/cuemby/doughnut/pkg/consensus/async"
	"github.com/cuemby/doughnut/pkg/consensus/cache"
	"github.com/cuemby/doughnut/pkg/consensus/paxos"
	"github.com/cuemby/doughnut/pkg/dock"
	"github.com/cuemby/doughnut/pkg/events"
	"github.com/cuemby/doughnut/pkg/local"
	"github.com/cuemby/doughnut/pkg/log"
	"github.com/cuemby/doughnut/pkg/metrics"
	"github.com/cuemby/doughnut/pkg/overlay"
	"github.com/cuemby/doughnut/pkg/security"
	"github.com/cuemby/doughnut/pkg/silo"
	"github.com/cuemby/doughnut/pkg/storage"
)

const metricsCollectionInterval = 15 * time.Second

// Doughnut is a single running node: it owns its identity, its local
// store, its overlay membership, and the cache-over-async-over-paxos
// consensus stack, and exposes the block operations (see ops.go) and
// constructors (see blocks.go) an application builds on.
type Doughnut struct {
	cfg Config

	store storage.Store
	pub   block.PublicKey
	priv  block.PrivateKey

	ca        *security.CertAuthority
	authority *security.PassportAuthority

	silo   silo.Silo
	model  *siloModel
	broker *events.Broker
	local  *local.Peer

	overlay   *overlay.Static
	peerCache *dock.PeerCache
	consensus consensus.Consensus
	asyncLayer *async.Async

	grpcServer *grpc.Server
	listener   net.Listener

	metricsServer    *http.Server
	metricsCollector *metrics.Collector

	heartbeatCancel context.CancelFunc

	closeOnce sync.Once
}

// New assembles and starts a Doughnut node from cfg: it loads or
// creates the node's signing identity, brings up the CA and passport
// authority, opens the local silo, joins the overlay against cfg.Seeds,
// wires the paxos/async/cache consensus stack, and starts a gRPC Dock
// listener and heartbeat loop. The returned Doughnut is ready to serve
// Insert/Update/Fetch/Remove immediately.
func New(cfg Config) (*Doughnut, error) {
	cfg.setDefaults()
	if cfg.NodeID == "" {
		return nil, fmt.Errorf("doughnut: NodeID is required")
	}

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("doughnut: create data dir: %w", err)
	}
	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("doughnut: open store: %w", err)
	}

	if err := setCAEncryptionKey(cfg.Passphrase); err != nil {
		store.Close()
		return nil, err
	}

	// CertAuthority.IsInitialized reports in-memory state, not whether
	// the store already holds a saved CA — a freshly constructed
	// CertAuthority always reports false, so existence is checked
	// against the store directly to decide Load vs Initialize.
	existingCA, err := store.GetCA()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("doughnut: check CA: %w", err)
	}

	ca := security.NewCertAuthority(store)
	if existingCA != nil {
		if err := ca.LoadFromStore(); err != nil {
			store.Close()
			return nil, fmt.Errorf("doughnut: load CA: %w", err)
		}
	} else {
		if err := ca.Initialize(); err != nil {
			store.Close()
			return nil, fmt.Errorf("doughnut: initialize CA: %w", err)
		}
		if err := ca.SaveToStore(); err != nil {
			store.Close()
			return nil, fmt.Errorf("doughnut: save CA: %w", err)
		}
	}

	return newWithCA(cfg, store, ca)
}

// NewWithTrustedCA assembles a node the same way New does, but under a
// CertAuthority provisioned and initialized elsewhere rather than
// generated fresh from this node's own store. Every node in a
// deployment must trust the same root for mTLS to succeed between them,
// so a real cluster bootstraps one CertAuthority out of band (e.g. an
// operator tool running Initialize once and distributing its exported
// state) and every node joins it through this constructor instead of
// New.
func NewWithTrustedCA(cfg Config, ca *security.CertAuthority) (*Doughnut, error) {
	cfg.setDefaults()
	if cfg.NodeID == "" {
		return nil, fmt.Errorf("doughnut: NodeID is required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("doughnut: create data dir: %w", err)
	}
	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("doughnut: open store: %w", err)
	}
	return newWithCA(cfg, store, ca)
}

func newWithCA(cfg Config, store storage.Store, ca *security.CertAuthority) (*Doughnut, error) {
	pub, priv, err := loadOrCreateIdentity(store, cfg.Passphrase)
	if err != nil {
		store.Close()
		return nil, err
	}

	// The passport authority signs proof-of-identity for every node in
	// the deployment; a node's own long-term key pair doubles as the
	// authority's key pair, so any node can verify any other's
	// self-issued passport without a separate shared secret.
	authority := security.NewPassportAuthority(pub, priv)

	siloDir := cfg.SiloDir
	var backend silo.Silo
	broker := events.NewBroker()
	broker.Start()
	if siloDir == "" {
		backend = silo.NewMemoryBackend(cfg.Capacity)
	} else {
		backend, err = silo.NewFSBackend(siloDir, cfg.Capacity, broker)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("doughnut: open silo: %w", err)
		}
	}

	model := newSiloModel(pub, backend)
	localPeer := local.New(backend, model, broker)

	seedLocs := make([]overlay.Location, 0, len(cfg.Seeds))
	for _, s := range cfg.Seeds {
		seedLocs = append(seedLocs, s.toLocation())
	}

	// This node is always a member of its own overlay ring — without it
	// Allocate/Lookup against a freshly started, seedless node would
	// return zero candidates and every Fetch would report a missing
	// block despite the node holding the data locally.
	self := overlay.Location{ID: cfg.NodeID, Endpoints: []string{cfg.ListenAddr}}
	ov := overlay.NewStatic(append([]overlay.Location{self}, seedLocs...), broker)
	if len(seedLocs) > 0 {
		if err := ov.Discover(context.Background(), seedLocs); err != nil {
			log.WithComponent("doughnut").Warn().Err(err).Msg("initial overlay discovery failed")
		}
	}

	host, _, splitErr := net.SplitHostPort(cfg.ListenAddr)
	var dnsNames []string
	var ips []net.IP
	if splitErr == nil && host != "" {
		if ip := net.ParseIP(host); ip != nil {
			ips = append(ips, ip)
		} else {
			dnsNames = append(dnsNames, host)
		}
	}
	serverCreds, err := dockTLS(ca, cfg.NodeID, dnsNames, ips)
	if err != nil {
		store.Close()
		return nil, err
	}
	clientCreds, err := dockTLS(ca, cfg.NodeID, dnsNames, ips)
	if err != nil {
		store.Close()
		return nil, err
	}

	// A Remote's handshake presents this passport in its Hello RPC, the
	// same way Server.hello expects of an inbound dialer; without it
	// every outbound dial would fail passport verification on the
	// remote end before Promise/Accept ever got a chance to run.
	selfPassport, err := authority.Issue(cfg.NodeID, pub, dock.PassportValidity)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("doughnut: issue self passport: %w", err)
	}

	dialOpts := dock.DialOptions{
		NodeID:     cfg.NodeID,
		PublicKey:  pub,
		PrivateKey: priv,
		Passport:   *selfPassport,
		Authority:  authority,
		TLSOption:  dialOption(clientCreds),
	}
	peerCache := dock.NewPeerCache(dialOpts)

	acceptor := paxos.NewLocalAcceptor(backend, localPeer)

	paxosCfg := paxos.DefaultConfig()
	paxosCfg.ProposerID = cfg.NodeID
	paxosCfg.ReplicationFactor = cfg.ReplicationFactor
	paxosInstance := paxos.New(paxosCfg, ov, peerCache, cfg.NodeID, acceptor)

	journalDir := cfg.JournalDir
	if journalDir == "" {
		journalDir = filepath.Join(cfg.DataDir, "journal")
	}
	if err := os.MkdirAll(journalDir, 0o700); err != nil {
		store.Close()
		return nil, fmt.Errorf("doughnut: create journal dir: %w", err)
	}

	asyncCfg := async.Config{
		JournalDir:    journalDir,
		QueueCapacity: cfg.QueueCapacity,
	}
	asyncInstance, err := async.New(asyncCfg, paxosInstance)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("doughnut: start journal: %w", err)
	}

	cacheCfg := cache.Config{
		Size:                   cfg.CacheSize,
		TTL:                    cfg.CacheTTL,
		InvalidationAge:        cfg.CacheInvalidationAge,
		DiskCacheDir:           cfg.DiskCacheDir,
		DiskCacheCapacityBytes: cfg.DiskCacheCapacity,
	}
	cacheInstance, err := cache.New(cacheCfg, asyncInstance)
	if err != nil {
		asyncInstance.Close(context.Background())
		store.Close()
		return nil, fmt.Errorf("doughnut: start cache: %w", err)
	}

	server, err := dock.NewServer(cfg.NodeID, pub, priv, authority, acceptor, localPeer, broker, store)
	if err != nil {
		asyncInstance.Close(context.Background())
		store.Close()
		return nil, fmt.Errorf("doughnut: build dock server: %w", err)
	}

	lis, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		asyncInstance.Close(context.Background())
		store.Close()
		return nil, fmt.Errorf("doughnut: listen on %s: %w", cfg.ListenAddr, err)
	}
	gs := grpc.NewServer(serverOption(serverCreds), dock.ServerCodecOption())
	gs.RegisterService(&dock.ServiceDesc, server)
	go func() {
		if err := gs.Serve(lis); err != nil {
			log.WithComponent("doughnut").Warn().Err(err).Msg("dock listener stopped")
		}
	}()

	hbCtx, hbCancel := context.WithCancel(context.Background())
	heartbeat := dock.NewHeartbeat(peerCache, broker, cfg.HeartbeatInterval)
	go heartbeat.Run(hbCtx)

	collector := metrics.NewCollector(backend, ov)
	collector.Start(metricsCollectionInterval)
	metricsSrv := startMetricsServer(cfg.MetricsAddr)
	metrics.RegisterComponent("silo", true, "open")
	metrics.RegisterComponent("overlay", true, "joined")
	metrics.RegisterComponent("dock", true, "listening")
	metrics.RegisterComponent("consensus", true, "ready")

	d := &Doughnut{
		cfg:             cfg,
		store:           store,
		pub:             pub,
		priv:            priv,
		ca:              ca,
		authority:       authority,
		silo:            backend,
		model:           model,
		broker:          broker,
		local:           localPeer,
		overlay:         ov,
		peerCache:       peerCache,
		consensus:       cacheInstance,
		asyncLayer:      asyncInstance,
		grpcServer:       gs,
		listener:         lis,
		metricsServer:    metricsSrv,
		metricsCollector: collector,
		heartbeatCancel:  hbCancel,
	}
	return d, nil
}

// NodeID returns this node's configured identifier.
func (d *Doughnut) NodeID() string { return d.cfg.NodeID }

// PublicKey returns this node's signing public key.
func (d *Doughnut) PublicKey() block.PublicKey { return d.pub }

// Addr returns the address the Dock listener is bound to.
func (d *Doughnut) Addr() net.Addr { return d.listener.Addr() }

// Close tears down the node in reverse order of construction: it stops
// accepting new Dock connections, cancels the heartbeat loop, drains
// and closes the journal, and finally closes the identity store.
func (d *Doughnut) Close() error {
	var closeErr error
	d.closeOnce.Do(func() {
		d.heartbeatCancel()
		d.metricsCollector.Stop()
		if err := stopMetricsServer(d.metricsServer); err != nil {
			closeErr = fmt.Errorf("doughnut: close metrics server: %w", err)
		}
		d.grpcServer.GracefulStop()
		if err := d.peerCache.Close(); err != nil && closeErr == nil {
			closeErr = fmt.Errorf("doughnut: close peer connections: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.asyncLayer.Close(ctx); err != nil {
			closeErr = fmt.Errorf("doughnut: close journal: %w", err)
		}
		d.broker.Stop()
		if err := d.store.Close(); err != nil && closeErr == nil {
			closeErr = fmt.Errorf("doughnut: close store: %w", err)
		}
	})
	return closeErr
}

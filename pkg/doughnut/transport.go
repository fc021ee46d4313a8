package doughnut

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/cuemby/doughnut/pkg/log"
	"github.com/cuemby/doughnut/pkg/security"
)

// dockTLS loads (or issues and caches) a node certificate under ca and
// builds the mTLS grpc.DialOption/credentials.TransportCredentials pair
// the Dock server and every outbound connection use, independently of
// the Ed25519 passport exchanged in the handshake itself.
func dockTLS(ca *security.CertAuthority, nodeID string, dnsNames []string, ips []net.IP) (credentials.TransportCredentials, error) {
	root, err := x509.ParseCertificate(ca.GetRootCACert())
	if err != nil {
		return nil, fmt.Errorf("doughnut: parse root CA: %w", err)
	}

	cert, err := loadOrIssueDockCert(ca, nodeID, dnsNames, ips, root)
	if err != nil {
		return nil, err
	}

	pool := x509.NewCertPool()
	pool.AddCert(root)

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{*cert},
		RootCAs:      pool,
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
	}
	return credentials.NewTLS(tlsCfg), nil
}

// loadOrIssueDockCert reuses a previously cached dock certificate from
// disk across process restarts, only asking ca to mint a fresh one when
// none is cached, the cached one was signed by a different root, it
// fails chain validation, or it's within its rotation window.
func loadOrIssueDockCert(ca *security.CertAuthority, nodeID string, dnsNames []string, ips []net.IP, root *x509.Certificate) (*tls.Certificate, error) {
	certDir, err := security.GetCertDir("dock", nodeID)
	if err != nil {
		return nil, fmt.Errorf("doughnut: dock cert directory: %w", err)
	}

	if security.CertExists(certDir) {
		if cached, ok := tryLoadDockCert(certDir, root); ok {
			return cached, nil
		}
		if err := security.RemoveCerts(certDir); err != nil {
			return nil, fmt.Errorf("doughnut: remove stale dock certs: %w", err)
		}
	}

	cert, err := ca.IssueNodeCertificate(nodeID, "dock", dnsNames, ips)
	if err != nil {
		return nil, fmt.Errorf("doughnut: issue dock certificate: %w", err)
	}
	if err := security.SaveCertToFile(cert, certDir); err != nil {
		return nil, fmt.Errorf("doughnut: cache dock certificate: %w", err)
	}
	if err := security.SaveCACertToFile(ca.GetRootCACert(), certDir); err != nil {
		return nil, fmt.Errorf("doughnut: cache dock CA certificate: %w", err)
	}
	return cert, nil
}

// tryLoadDockCert returns the cached certificate in certDir if it is
// still signed by root, chains cleanly to it, and isn't due for
// rotation; ok is false for any reason the cache should be discarded.
func tryLoadDockCert(certDir string, root *x509.Certificate) (cert *tls.Certificate, ok bool) {
	cachedRoot, err := security.LoadCACertFromFile(certDir)
	if err != nil || !cachedRoot.Equal(root) {
		return nil, false
	}
	cert, err = security.LoadCertFromFile(certDir)
	if err != nil || security.CertNeedsRotation(cert.Leaf) {
		return nil, false
	}
	if err := security.ValidateCertChain(cert.Leaf, root); err != nil {
		return nil, false
	}
	log.WithComponent("doughnut").Debug().
		Interface("cert", security.GetCertInfo(cert.Leaf)).
		Msg("reusing cached dock certificate")
	return cert, true
}

// serverOption wraps creds for use with grpc.NewServer.
func serverOption(creds credentials.TransportCredentials) grpc.ServerOption {
	return grpc.Creds(creds)
}

// dialOption wraps creds for use as a client grpc.DialOption, the
// DialOptions.TLSOption field consumed by dock.Dial.
func dialOption(creds credentials.TransportCredentials) grpc.DialOption {
	return grpc.WithTransportCredentials(creds)
}

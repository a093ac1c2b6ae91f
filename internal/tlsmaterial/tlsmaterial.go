// Package tlsmaterial loads the edge-facing TLS certificate and builds the
// server-side tls.Config used by the QUIC listener, including the "h3" ALPN
// protocol required by spec §6.
package tlsmaterial

import (
	"crypto/tls"
	"fmt"
)

// Load reads a PEM certificate/key pair from disk (spec §7 TlsLoad).
func Load(certPath, keyPath string) (tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("loading TLS material: %w", err)
	}
	return cert, nil
}

// ServerConfig builds the tls.Config the QUIC listener presents to clients,
// advertising the "h3" ALPN token per spec §6.
func ServerConfig(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"h3"},
		MinVersion:   tls.VersionTLS13,
	}
}

// Package trust builds the server-certificate trust policy used by the
// Password Safe transport. Three policies are supported: standard CA
// validation, accept-anything (diagnostic use only), and a pinned PEM
// bundle where a connection is accepted when any presented certificate
// matches a pinned fingerprint or standard validation succeeds.
package trust

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/turkcell/bt-go-lib/internal/logging"
)

// Policy selects how server certificates are validated.
type Policy string

const (
	// PolicyDefault uses standard CA-chain validation.
	PolicyDefault Policy = "default"
	// PolicyIgnoreAll accepts any certificate. Diagnostic use only.
	PolicyIgnoreAll Policy = "ignore-all"
	// PolicyPinned accepts certificates matching a pinned PEM bundle,
	// falling back to standard validation for unpinned chains.
	PolicyPinned Policy = "pinned"
)

// Config describes the trust policy for one transport.
type Config struct {
	Policy Policy
	// Bundle holds one or more PEM certificate blocks when Policy is
	// PolicyPinned.
	Bundle []byte
	// Strict makes a malformed bundle a construction error. When false
	// a malformed bundle downgrades to PolicyDefault with a warning.
	Strict bool
}

// Fingerprints parses a PEM bundle into SHA-256 certificate
// fingerprints. It fails when no parseable certificate block is found.
func Fingerprints(bundle []byte) (map[[sha256.Size]byte]struct{}, error) {
	pins := make(map[[sha256.Size]byte]struct{})
	rest := bundle
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		if _, err := x509.ParseCertificate(block.Bytes); err != nil {
			return nil, fmt.Errorf("invalid certificate in trust bundle: %w", err)
		}
		pins[sha256.Sum256(block.Bytes)] = struct{}{}
	}
	if len(pins) == 0 {
		return nil, fmt.Errorf("no PEM certificate block found in trust bundle")
	}
	return pins, nil
}

// TLSConfig builds the tls.Config for the configured policy.
func (c Config) TLSConfig(logger *logging.Logger) (*tls.Config, error) {
	switch c.Policy {
	case PolicyIgnoreAll:
		logger.Warn("TLS verification disabled, use for diagnostics only")
		return &tls.Config{
			InsecureSkipVerify: true,
			MinVersion:         tls.VersionTLS12,
		}, nil

	case PolicyPinned:
		pins, err := Fingerprints(c.Bundle)
		if err != nil {
			if c.Strict {
				return nil, err
			}
			logger.Warn("trust bundle unusable, falling back to default validation: %v", err)
			return &tls.Config{MinVersion: tls.VersionTLS12}, nil
		}
		return &tls.Config{
			// Built-in verification is replaced by VerifyConnection so
			// that pinned-but-untrusted chains can still be accepted.
			InsecureSkipVerify: true,
			MinVersion:         tls.VersionTLS12,
			VerifyConnection:   VerifyPinned(pins),
		}, nil

	default:
		return &tls.Config{MinVersion: tls.VersionTLS12}, nil
	}
}

// VerifyPinned returns a connection verifier that accepts a connection
// when the leaf or any chain certificate matches a pinned fingerprint,
// or when standard chain validation succeeds.
func VerifyPinned(pins map[[sha256.Size]byte]struct{}) func(tls.ConnectionState) error {
	return func(cs tls.ConnectionState) error {
		for _, cert := range cs.PeerCertificates {
			if _, ok := pins[sha256.Sum256(cert.Raw)]; ok {
				return nil
			}
		}
		if len(cs.PeerCertificates) == 0 {
			return fmt.Errorf("server presented no certificate")
		}
		intermediates := x509.NewCertPool()
		for _, cert := range cs.PeerCertificates[1:] {
			intermediates.AddCert(cert)
		}
		_, err := cs.PeerCertificates[0].Verify(x509.VerifyOptions{
			DNSName:       cs.ServerName,
			Intermediates: intermediates,
		})
		if err != nil {
			return fmt.Errorf("certificate matches no pin and fails chain validation: %w", err)
		}
		return nil
	}
}

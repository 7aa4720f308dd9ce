// Package tquictest contains fixtures for testing QUIC peer transports.
package tquictest

import (
	"crypto/ed25519"
	crand "crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// CA is a throwaway certificate authority
// whose leaves trust each other.
type CA struct {
	Cert *x509.Certificate
	key  ed25519.PrivateKey

	pool *x509.CertPool
}

// NewCA generates an ed25519 CA valid for an hour.
func NewCA(t testing.TB) *CA {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: randomSerial(t),

		Subject: pkix.Name{
			Organization: []string{"Test CA"},
			CommonName:   "Test CA Root",
		},
		NotBefore: time.Now().Add(-15 * time.Second),
		NotAfter:  time.Now().Add(time.Hour),

		KeyUsage: x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage: []x509.ExtKeyUsage{
			x509.ExtKeyUsageServerAuth,
			x509.ExtKeyUsageClientAuth,
		},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(nil, template, template, pub, priv)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	pool := x509.NewCertPool()
	pool.AddCert(cert)

	return &CA{Cert: cert, key: priv, pool: pool}
}

// TLSConfig returns a config presenting a fresh leaf certificate for names,
// which trusts every leaf of ca.
// The leaf is also valid for 127.0.0.1.
func (ca *CA) TLSConfig(t testing.TB, names ...string) *tls.Config {
	t.Helper()

	if len(names) == 0 {
		t.Fatal("TLSConfig requires at least one name")
	}

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: randomSerial(t),
		Subject: pkix.Name{
			Organization: []string{"Test Leaf Cert"},
			CommonName:   names[0],
		},
		NotBefore: time.Now().Add(-15 * time.Second),
		NotAfter:  time.Now().Add(time.Hour),
		KeyUsage:  x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{
			x509.ExtKeyUsageServerAuth,
			x509.ExtKeyUsageClientAuth,
		},
		DNSNames:    names,
		IPAddresses: []net.IP{net.IPv4(127, 0, 0, 1)},

		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(nil, template, ca.Cert, pub, ca.key)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return &tls.Config{
		Certificates: []tls.Certificate{
			{
				Certificate: [][]byte{leaf.Raw},
				PrivateKey:  priv,

				Leaf: leaf,
			},
		},
		RootCAs: ca.pool,
	}
}

// ListenUDP binds a UDP socket on 127.0.0.1,
// closed as part of test cleanup.
func ListenUDP(t testing.TB) *net.UDPConn {
	t.Helper()

	uc, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = uc.Close() })
	return uc
}

func randomSerial(t testing.TB) *big.Int {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	n, err := crand.Int(crand.Reader, limit)
	require.NoError(t, err, "failed to create random serial")
	return n
}

// Package tlsutil builds TLS configurations for the HTTP endpoints.
package tlsutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/ha1tch/tsqlcompat/pkg/errors"
)

// Options selects where the server certificate comes from. CertFile and
// KeyFile take precedence over SelfSigned.
type Options struct {
	CertFile   string
	KeyFile    string
	SelfSigned bool
}

// Enabled reports whether any certificate source is configured.
func (o Options) Enabled() bool {
	return o.CertFile != "" || o.KeyFile != "" || o.SelfSigned
}

// ServerConfig returns a server-side TLS configuration, or nil when TLS is
// not enabled.
func ServerConfig(opts Options) (*tls.Config, error) {
	if !opts.Enabled() {
		return nil, nil
	}

	var cert tls.Certificate
	var err error
	switch {
	case opts.CertFile != "" && opts.KeyFile != "":
		cert, err = tls.LoadX509KeyPair(opts.CertFile, opts.KeyFile)
	case opts.CertFile != "" || opts.KeyFile != "":
		return nil, errors.New(errors.ErrCodeConfigInvalid, "both a certificate and a key file are required").
			WithOp("tlsutil.ServerConfig").
			Err()
	default:
		var certPEM, keyPEM []byte
		certPEM, keyPEM, err = selfSigned()
		if err == nil {
			cert, err = tls.X509KeyPair(certPEM, keyPEM)
		}
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "loading TLS certificate").
			WithOp("tlsutil.ServerConfig").
			Err()
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// WriteSelfSigned generates a localhost certificate into dir as server.crt
// and server.key.
func WriteSelfSigned(dir string) (certFile, keyFile string, err error) {
	certPEM, keyPEM, err := selfSigned()
	if err != nil {
		return "", "", err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", "", errors.Wrap(err, errors.ErrCodeInternal, "creating certificate directory").Err()
	}

	certFile = filepath.Join(dir, "server.crt")
	keyFile = filepath.Join(dir, "server.key")
	if err := os.WriteFile(certFile, certPEM, 0o644); err != nil {
		return "", "", errors.Wrap(err, errors.ErrCodeInternal, "writing certificate").Err()
	}
	if err := os.WriteFile(keyFile, keyPEM, 0o600); err != nil {
		return "", "", errors.Wrap(err, errors.ErrCodeInternal, "writing key").Err()
	}
	return certFile, keyFile, nil
}

// selfSigned returns a PEM certificate and EC key valid for one year on
// localhost.
func selfSigned() (certPEM, keyPEM []byte, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrCodeInternal, "generating private key").Err()
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrCodeInternal, "generating serial number").Err()
	}

	now := time.Now()
	tmpl := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"tsqlcompat"},
			CommonName:   "localhost",
		},
		NotBefore:             now,
		NotAfter:              now.Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")},
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrCodeInternal, "creating certificate").Err()
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrCodeInternal, "marshaling private key").Err()
	}

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM, nil
}

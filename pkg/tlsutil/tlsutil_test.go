package tlsutil

import (
	"crypto/x509"
	"testing"

	"github.com/ha1tch/tsqlcompat/pkg/errors"
)

func TestServerConfig_Disabled(t *testing.T) {
	cfg, err := ServerConfig(Options{})
	if err != nil || cfg != nil {
		t.Fatalf("ServerConfig = (%v, %v), want nil", cfg, err)
	}
}

func TestServerConfig_SelfSigned(t *testing.T) {
	cfg, err := ServerConfig(Options{SelfSigned: true})
	if err != nil {
		t.Fatalf("ServerConfig: %v", err)
	}
	if len(cfg.Certificates) != 1 {
		t.Fatalf("certificates = %d, want 1", len(cfg.Certificates))
	}
	leaf, err := x509.ParseCertificate(cfg.Certificates[0].Certificate[0])
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := leaf.VerifyHostname("localhost"); err != nil {
		t.Fatalf("VerifyHostname: %v", err)
	}
}

func TestServerConfig_Files(t *testing.T) {
	certFile, keyFile, err := WriteSelfSigned(t.TempDir())
	if err != nil {
		t.Fatalf("WriteSelfSigned: %v", err)
	}
	cfg, err := ServerConfig(Options{CertFile: certFile, KeyFile: keyFile})
	if err != nil {
		t.Fatalf("ServerConfig: %v", err)
	}
	if len(cfg.Certificates) != 1 {
		t.Fatalf("certificates = %d, want 1", len(cfg.Certificates))
	}
}

func TestServerConfig_MissingKey(t *testing.T) {
	_, err := ServerConfig(Options{CertFile: "server.crt"})
	if !errors.IsCode(err, errors.ErrCodeConfigInvalid) {
		t.Fatalf("error = %v, want config invalid", err)
	}
}

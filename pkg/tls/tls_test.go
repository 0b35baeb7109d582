package tls

import (
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGenerateSelfSignedCert(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")

	if err := GenerateSelfSignedCert(certFile, keyFile, "status.local", time.Hour, "10.0.0.5", "search.example"); err != nil {
		t.Fatalf("GenerateSelfSignedCert: %v", err)
	}

	data, err := os.ReadFile(certFile)
	if err != nil {
		t.Fatal(err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		t.Fatal("certificate is not PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		t.Fatalf("ParseCertificate: %v", err)
	}
	for _, name := range []string{"status.local", "localhost", "search.example"} {
		if err := cert.VerifyHostname(name); err != nil {
			t.Errorf("certificate does not cover %s: %v", name, err)
		}
	}
	if err := cert.VerifyHostname("10.0.0.5"); err != nil {
		t.Errorf("certificate does not cover IP SAN: %v", err)
	}
	if cert.NotAfter.Sub(cert.NotBefore) > time.Hour+time.Second {
		t.Errorf("validity = %v, want 1h", cert.NotAfter.Sub(cert.NotBefore))
	}

	info, err := os.Stat(keyFile)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("key file mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestServerConfig(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")
	if err := GenerateSelfSignedCert(certFile, keyFile, "localhost", 0); err != nil {
		t.Fatal(err)
	}

	cfg, err := ServerConfig(certFile, keyFile, "")
	if err != nil {
		t.Fatalf("ServerConfig: %v", err)
	}
	if len(cfg.Certificates) != 1 || cfg.ClientCAs != nil {
		t.Errorf("unexpected config: %d certs, client CAs %v", len(cfg.Certificates), cfg.ClientCAs)
	}

	// the self-signed cert doubles as a client CA
	cfg, err = ServerConfig(certFile, keyFile, certFile)
	if err != nil {
		t.Fatalf("ServerConfig with CA: %v", err)
	}
	if cfg.ClientCAs == nil {
		t.Error("client CA pool not set")
	}

	if _, err := ServerConfig(filepath.Join(dir, "missing.pem"), keyFile, ""); err == nil {
		t.Error("expected error for missing cert")
	}
	if _, err := ServerConfig(certFile, keyFile, keyFile); err == nil {
		t.Error("expected error for a CA file without certificates")
	}
}

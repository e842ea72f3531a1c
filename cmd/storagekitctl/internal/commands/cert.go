package commands

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
)

// CertFiles names the PEM files written by GenerateSelfSigned.
type CertFiles struct {
	Cert string
	Key  string
}

// GenerateSelfSigned writes a self-signed server certificate for hosts into
// dir. Hosts that parse as IPs become IP SANs, the rest DNS SANs.
func GenerateSelfSigned(dir string, hosts []string, validity time.Duration) (CertFiles, error) {
	if len(hosts) == 0 {
		return CertFiles{}, fmt.Errorf("at least one host is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return CertFiles{}, fmt.Errorf("create cert dir: %w", err)
	}
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return CertFiles{}, fmt.Errorf("generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return CertFiles{}, fmt.Errorf("serial number: %w", err)
	}

	now := time.Now()
	tmpl := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"storage-kit-hub"}, CommonName: hosts[0]},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
		} else {
			tmpl.DNSNames = append(tmpl.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return CertFiles{}, fmt.Errorf("create certificate: %w", err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return CertFiles{}, fmt.Errorf("marshal key: %w", err)
	}

	files := CertFiles{Cert: filepath.Join(dir, "server.crt"), Key: filepath.Join(dir, "server.key")}
	if err := writePEM(files.Cert, "CERTIFICATE", der, 0o644); err != nil {
		return CertFiles{}, err
	}
	if err := writePEM(files.Key, "PRIVATE KEY", keyDER, 0o600); err != nil {
		return CertFiles{}, err
	}
	return files, nil
}

func writePEM(path, typ string, der []byte, mode os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := pem.Encode(f, &pem.Block{Type: typ, Bytes: der}); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}

func newCertCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gencert",
		Short: "Generate a self-signed TLS certificate for local development",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, _ := cmd.Flags().GetString("out")
			hosts, _ := cmd.Flags().GetStringSlice("host")
			days, _ := cmd.Flags().GetInt("days")
			if days <= 0 {
				return fmt.Errorf("--days must be positive")
			}
			files, err := GenerateSelfSigned(dir, hosts, time.Duration(days)*24*time.Hour)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "certificate: %s\nprivate key: %s\n", files.Cert, files.Key)
			fmt.Fprintln(out, "set server.tls.cert_file and server.tls.key_file to enable HTTPS")
			return nil
		},
	}
	cmd.Flags().String("out", "certs", "output directory")
	cmd.Flags().StringSlice("host", []string{"localhost", "127.0.0.1", "::1"}, "DNS names or IPs to include")
	cmd.Flags().Int("days", 365, "validity in days")
	return cmd
}

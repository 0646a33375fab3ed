// Package keys provisions the key material of a twinftp server: the TLS
// certificate of the command channel and the host key of the SFTP mirror.
package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"time"

	"golang.org/x/crypto/ssh"
)

// GeneratesRSAKeys generates a new RSA key pair and returns the private and public keys in PEM format.
func GeneratesRSAKeys(bitSize int) (privateKeyFile, publicKeyFile []byte, err error) {
	switch bitSize {
	case 2048, 3072, 4096:
	default:
		return nil, nil, fmt.Errorf("invalid RSA bit size: %d", bitSize)
	}

	privateKey, err := rsa.GenerateKey(rand.Reader, bitSize)
	if err != nil {
		return nil, nil, fmt.Errorf("error generating RSA private key: %w", err)
	}
	privateKeyFile = pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})
	publicKeyFile, err = publicPEM(&privateKey.PublicKey)
	return privateKeyFile, publicKeyFile, err
}

// GeneratesECDSAKeys generates a new ECDSA key pair and returns the private and public keys in PEM format.
func GeneratesECDSAKeys(bitSize int) (privateKeyFile, publicKeyFile []byte, err error) {
	var curve elliptic.Curve
	switch bitSize {
	case 224:
		curve = elliptic.P224()
	case 256:
		curve = elliptic.P256()
	case 384:
		curve = elliptic.P384()
	case 521:
		curve = elliptic.P521()
	default:
		return nil, nil, fmt.Errorf("unsupported ECDSA bit size: %d", bitSize)
	}

	privateKey, err := ecdsa.GenerateKey(curve, rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("error generating ECDSA private key: %w", err)
	}
	privateKeyBytes, err := x509.MarshalECPrivateKey(privateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("error marshaling ECDSA private key: %w", err)
	}
	privateKeyFile = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: privateKeyBytes})
	publicKeyFile, err = publicPEM(&privateKey.PublicKey)
	return privateKeyFile, publicKeyFile, err
}

// GeneratesEdDSAKeys generates a new Ed25519 key pair and returns the private and public keys in PEM format.
func GeneratesEdDSAKeys() (privateKeyFile, publicKeyFile []byte, err error) {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("error generating EdDSA private key: %w", err)
	}
	privateKeyBytes, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("error marshaling EdDSA private key: %w", err)
	}
	privateKeyFile = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privateKeyBytes})
	publicKeyFile, err = publicPEM(publicKey)
	return privateKeyFile, publicKeyFile, err
}

func publicPEM(pub crypto.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("error marshaling public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// HostSigner loads the SSH host key from file. An empty name or a missing file
// yields a fresh Ed25519 key; with a name the new key is written there so the
// host identity survives restarts.
func HostSigner(file string) (ssh.Signer, error) {
	if file != "" {
		b, err := os.ReadFile(file)
		if err == nil {
			signer, err := ssh.ParsePrivateKey(b)
			if err != nil {
				return nil, fmt.Errorf("error parsing host key %s: %w", file, err)
			}
			return signer, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("error reading host key: %w", err)
		}
	}

	private, _, err := GeneratesEdDSAKeys()
	if err != nil {
		return nil, err
	}
	if file != "" {
		if err := os.WriteFile(file, private, 0600); err != nil {
			return nil, fmt.Errorf("error writing host key: %w", err)
		}
	}
	signer, err := ssh.ParsePrivateKey(private)
	if err != nil {
		return nil, fmt.Errorf("error parsing host key: %w", err)
	}
	return signer, nil
}

// SelfSignedCert creates an ECDSA P-256 certificate for hosts (names or IPs),
// valid from now for validFor.
func SelfSignedCert(hosts []string, validFor time.Duration) (tls.Certificate, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("error generating certificate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("error generating serial number: %w", err)
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"twinftp"}},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(validFor),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else if h != "" {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("error creating certificate: %w", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("error parsing certificate: %w", err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: privateKey, Leaf: leaf}, nil
}

// ServerTLSConfig loads certFile and keyFile. With both empty it returns a
// self-signed certificate for hosts.
func ServerTLSConfig(certFile, keyFile string, hosts []string) (*tls.Config, error) {
	var cert tls.Certificate
	var err error
	if certFile == "" && keyFile == "" {
		cert, err = SelfSignedCert(hosts, 365*24*time.Hour)
	} else {
		cert, err = tls.LoadX509KeyPair(certFile, keyFile)
	}
	if err != nil {
		return nil, fmt.Errorf("error loading TLS certificate: %w", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}, nil
}

// ClientTLSConfig trusts the PEM certificates of caFile in addition to the system
// pool. insecure skips verification altogether.
func ClientTLSConfig(caFile, serverName string, insecure bool) (*tls.Config, error) {
	config := &tls.Config{ServerName: serverName, MinVersion: tls.VersionTLS12, InsecureSkipVerify: insecure}
	if caFile == "" {
		return config, nil
	}

	b, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("error reading CA file: %w", err)
	}
	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(b) {
		return nil, fmt.Errorf("no certificates found in %s", caFile)
	}
	config.RootCAs = pool
	return config, nil
}

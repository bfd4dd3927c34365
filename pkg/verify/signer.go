package verify

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"

	"github.com/modkernel/switchyard/pkg/types"
)

const devSignerValidity = 90 * 24 * time.Hour

// ParseChainPEM decodes a PEM bundle into certificates, leaf first.
// Non-certificate blocks are rejected rather than skipped.
func ParseChainPEM(chainPEM []byte) ([]*x509.Certificate, error) {
	var chain []*x509.Certificate
	rest := chainPEM
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			return nil, fmt.Errorf("%w: unexpected PEM block %q in signer chain", types.ErrValidation, block.Type)
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: bad certificate in signer chain", types.ErrValidation)
		}
		chain = append(chain, cert)
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("%w: signer chain contains no certificates", types.ErrValidation)
	}
	return chain, nil
}

// DevSigner mints a self-signed ECDSA P-256 signer for development,
// QA, and tests. Modules it signs pass permissive verification only;
// strict mode rejects them unless its certificate is installed as a
// trust root.
type DevSigner struct {
	key  *ecdsa.PrivateKey
	cert *x509.Certificate
	pem  []byte
}

// NewDevSigner generates a fresh self-signed signer
func NewDevSigner(commonName string) (*DevSigner, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signer key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"Switchyard Dev"},
			CommonName:   commonName,
		},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(devSignerValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		IsCA:                  true,
		BasicConstraintsValid: true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create signer certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signer certificate: %w", err)
	}

	return &DevSigner{
		key:  key,
		cert: cert,
		pem:  pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}),
	}, nil
}

// SignDigest signs a hex-encoded sha256 artifact digest
func (s *DevSigner) SignDigest(hexDigest string) ([]byte, error) {
	digest, err := hex.DecodeString(hexDigest)
	if err != nil || len(digest) != sha256.Size {
		return nil, fmt.Errorf("%w: digest is not a hex sha256", types.ErrValidation)
	}
	return ecdsa.SignASN1(rand.Reader, s.key, digest)
}

// ChainPEM returns the signer's single-certificate chain
func (s *DevSigner) ChainPEM() []byte {
	out := make([]byte, len(s.pem))
	copy(out, s.pem)
	return out
}

// Certificate returns the signer's certificate
func (s *DevSigner) Certificate() *x509.Certificate {
	return s.cert
}

// SignModule signs the module's artifact digest in place, attaching
// the signature and the signer chain
func (s *DevSigner) SignModule(m *types.Module) error {
	sig, err := s.SignDigest(m.Artifact.SHA256Digest)
	if err != nil {
		return err
	}
	m.Signature = sig
	m.SignerCertChain = s.ChainPEM()
	return nil
}

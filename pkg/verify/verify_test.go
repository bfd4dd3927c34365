package verify

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modkernel/switchyard/pkg/types"
)

type testCA struct {
	key  *ecdsa.PrivateKey
	cert *x509.Certificate
	pem  []byte
}

func newTestCA(t *testing.T) *testCA {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"Switchyard Test"},
			CommonName:   "Switchyard Test Root CA",
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign,
		IsCA:                  true,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return &testCA{
		key:  key,
		cert: cert,
		pem:  pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
	}
}

// issueECDSALeaf returns a signing key and its single-certificate
// chain, issued by the CA
func (ca *testCA) issueECDSALeaf(t *testing.T, cn string) (*ecdsa.PrivateKey, []byte) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der := ca.issue(t, cn, &key.PublicKey)
	return key, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func (ca *testCA) issueRSALeaf(t *testing.T, cn string) (*rsa.PrivateKey, []byte) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der := ca.issue(t, cn, &key.PublicKey)
	return key, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func (ca *testCA) issue(t *testing.T, cn string, pub any) []byte {
	t.Helper()

	template := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject: pkix.Name{
			Organization: []string{"Switchyard Test"},
			CommonName:   cn,
		},
		NotBefore: time.Now().Add(-time.Hour),
		NotAfter:  time.Now().Add(24 * time.Hour),
		KeyUsage:  x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, ca.cert, pub, ca.key)
	require.NoError(t, err)
	return der
}

func digestOf(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func testModule(digest string) *types.Module {
	return &types.Module{
		Name:    "nf-flowtrack",
		Version: "1.2.0",
		Artifact: types.ArtifactRef{
			URI:          "https://artifacts.internal/nf-flowtrack-1.2.0.ko",
			SHA256Digest: digest,
			SizeBytes:    1 << 20,
		},
	}
}

func signDigest(t *testing.T, key *ecdsa.PrivateKey, hexDigest string) []byte {
	t.Helper()
	digest, err := hex.DecodeString(hexDigest)
	require.NoError(t, err)
	sig, err := ecdsa.SignASN1(rand.Reader, key, digest)
	require.NoError(t, err)
	return sig
}

func TestVerifyTrustedChain(t *testing.T) {
	ca := newTestCA(t)
	key, chain := ca.issueECDSALeaf(t, "release-signer")

	v, err := New(Config{TrustRootsPEM: ca.pem})
	require.NoError(t, err)

	m := testModule(digestOf("module bytes"))
	m.Signature = signDigest(t, key, m.Artifact.SHA256Digest)
	m.SignerCertChain = chain

	result := v.Verify(m, types.EnvProduction)
	assert.Equal(t, VerdictOK, result.Verdict)
	assert.True(t, result.OK())
}

func TestVerifyRSALeaf(t *testing.T) {
	ca := newTestCA(t)
	key, chain := ca.issueRSALeaf(t, "release-signer-rsa")

	v, err := New(Config{TrustRootsPEM: ca.pem})
	require.NoError(t, err)

	m := testModule(digestOf("module bytes"))
	digest, err := hex.DecodeString(m.Artifact.SHA256Digest)
	require.NoError(t, err)
	m.Signature, err = rsa.SignPSS(rand.Reader, key, crypto.SHA256, digest, nil)
	require.NoError(t, err)
	m.SignerCertChain = chain

	result := v.Verify(m, types.EnvProduction)
	assert.Equal(t, VerdictOK, result.Verdict)
}

func TestVerifyBadSignature(t *testing.T) {
	ca := newTestCA(t)
	key, chain := ca.issueECDSALeaf(t, "release-signer")

	v, err := New(Config{TrustRootsPEM: ca.pem})
	require.NoError(t, err)

	m := testModule(digestOf("module bytes"))
	m.Signature = signDigest(t, key, digestOf("different bytes"))
	m.SignerCertChain = chain

	result := v.Verify(m, types.EnvProduction)
	assert.Equal(t, VerdictBadSignature, result.Verdict)
	assert.NotEmpty(t, result.Detail)
}

func TestVerifyUntrustedSigner(t *testing.T) {
	// Chain is internally valid but rooted outside the trust bundle.
	signerCA := newTestCA(t)
	key, chain := signerCA.issueECDSALeaf(t, "rogue-signer")

	trustedCA := newTestCA(t)
	v, err := New(Config{TrustRootsPEM: trustedCA.pem})
	require.NoError(t, err)

	m := testModule(digestOf("module bytes"))
	m.Signature = signDigest(t, key, m.Artifact.SHA256Digest)
	m.SignerCertChain = chain

	result := v.Verify(m, types.EnvProduction)
	assert.Equal(t, VerdictUntrustedSigner, result.Verdict)
}

func TestVerifySelfSignedByMode(t *testing.T) {
	signer, err := NewDevSigner("dev-signer")
	require.NoError(t, err)

	m := testModule(digestOf("module bytes"))
	require.NoError(t, signer.SignModule(m))

	permissive, err := New(Config{AllowSelfSigned: true})
	require.NoError(t, err)
	strict, err := New(Config{AllowSelfSigned: false})
	require.NoError(t, err)

	tests := []struct {
		name string
		v    *Verifier
		env  types.Environment
		want Verdict
	}{
		{"development with flag", permissive, types.EnvDevelopment, VerdictOK},
		{"qa with flag", permissive, types.EnvQA, VerdictOK},
		{"staging never permissive", permissive, types.EnvStaging, VerdictUntrustedSigner},
		{"production never permissive", permissive, types.EnvProduction, VerdictUntrustedSigner},
		{"development without flag", strict, types.EnvDevelopment, VerdictUntrustedSigner},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.v.Verify(m, tt.env)
			assert.Equal(t, tt.want, result.Verdict)
		})
	}
}

func TestVerifyMalformed(t *testing.T) {
	ca := newTestCA(t)
	key, chain := ca.issueECDSALeaf(t, "release-signer")

	valid := func() *types.Module {
		m := testModule(digestOf("module bytes"))
		m.Signature = signDigest(t, key, m.Artifact.SHA256Digest)
		m.SignerCertChain = chain
		return m
	}

	tests := []struct {
		name   string
		mutate func(*types.Module)
	}{
		{
			name:   "digest is not hex",
			mutate: func(m *types.Module) { m.Artifact.SHA256Digest = "zz" + m.Artifact.SHA256Digest[2:] },
		},
		{
			name:   "digest wrong length",
			mutate: func(m *types.Module) { m.Artifact.SHA256Digest = "abcd" },
		},
		{
			name:   "no signature",
			mutate: func(m *types.Module) { m.Signature = nil },
		},
		{
			name:   "empty chain",
			mutate: func(m *types.Module) { m.SignerCertChain = nil },
		},
		{
			name:   "chain is not PEM",
			mutate: func(m *types.Module) { m.SignerCertChain = []byte("not a pem bundle") },
		},
		{
			name: "chain holds a non-certificate block",
			mutate: func(m *types.Module) {
				m.SignerCertChain = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: []byte{1, 2, 3}})
			},
		},
	}

	v, err := New(Config{TrustRootsPEM: ca.pem})
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := valid()
			tt.mutate(m)
			result := v.Verify(m, types.EnvProduction)
			assert.Equal(t, VerdictMalformedArtifact, result.Verdict)
		})
	}
}

func TestVerifyCachesPerMode(t *testing.T) {
	signer, err := NewDevSigner("dev-signer")
	require.NoError(t, err)

	m := testModule(digestOf("module bytes"))
	require.NoError(t, signer.SignModule(m))

	v, err := New(Config{AllowSelfSigned: true})
	require.NoError(t, err)

	// Same module, different modes, repeated: verdicts must stay
	// distinct and stable.
	for i := 0; i < 3; i++ {
		assert.Equal(t, VerdictOK, v.Verify(m, types.EnvDevelopment).Verdict)
		assert.Equal(t, VerdictUntrustedSigner, v.Verify(m, types.EnvProduction).Verdict)
	}
}

func TestNewRejectsGarbageRoots(t *testing.T) {
	_, err := New(Config{TrustRootsPEM: []byte("garbage")})
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestParseChainPEMOrder(t *testing.T) {
	ca := newTestCA(t)
	_, leafPEM := ca.issueECDSALeaf(t, "release-signer")

	bundle := append(append([]byte{}, leafPEM...), ca.pem...)
	chain, err := ParseChainPEM(bundle)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, "release-signer", chain[0].Subject.CommonName)
	assert.Equal(t, "Switchyard Test Root CA", chain[1].Subject.CommonName)
}

func TestDetailNeverEchoesInput(t *testing.T) {
	v, err := New(Config{})
	require.NoError(t, err)

	m := testModule(digestOf("module bytes"))
	m.Signature = []byte("sig")
	m.SignerCertChain = []byte("secret-ish chain material")

	result := v.Verify(m, types.EnvProduction)
	assert.NotContains(t, result.Detail, "secret")
	assert.NotContains(t, result.Detail, m.Artifact.SHA256Digest)
}

package verify

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/modkernel/switchyard/pkg/log"
	"github.com/modkernel/switchyard/pkg/metrics"
	"github.com/modkernel/switchyard/pkg/types"
)

// Verdict is the outcome of verifying a module's provenance
type Verdict string

const (
	VerdictOK                Verdict = "ok"
	VerdictBadSignature      Verdict = "bad-signature"
	VerdictUntrustedSigner   Verdict = "untrusted-signer"
	VerdictMalformedArtifact Verdict = "malformed-artifact"
)

// Result carries a verdict plus a detail string that is safe to show
// operators: it never contains key material or chain contents.
type Result struct {
	Verdict Verdict
	Detail  string
}

// OK reports whether the module passed verification
func (r Result) OK() bool { return r.Verdict == VerdictOK }

// Config holds the verifier's trust configuration
type Config struct {
	// TrustRootsPEM is the PEM bundle of certificates signer chains
	// must terminate at
	TrustRootsPEM []byte

	// AllowSelfSigned permits self-signed signer certificates. It is
	// honored only for development and QA; staging and production
	// always require a chain to a trust root.
	AllowSelfSigned bool
}

// Verifier checks module signatures against the configured trust
// roots. Verification is a pure function of the artifact digest, the
// signature, and the signer chain, so verdicts are cached keyed by
// (digest, chain fingerprint, mode).
type Verifier struct {
	roots           *x509.CertPool
	allowSelfSigned bool
	logger          zerolog.Logger

	mu    sync.RWMutex
	cache map[cacheKey]Result
}

type cacheKey struct {
	digest     string
	chain      [sha256.Size]byte
	permissive bool
}

// New creates a verifier from a trust configuration. An empty root
// bundle is allowed; strict verification then rejects every signer.
func New(cfg Config) (*Verifier, error) {
	roots := x509.NewCertPool()
	if len(cfg.TrustRootsPEM) > 0 {
		if !roots.AppendCertsFromPEM(cfg.TrustRootsPEM) {
			return nil, fmt.Errorf("%w: no usable certificates in trust root bundle", types.ErrValidation)
		}
	}
	return &Verifier{
		roots:           roots,
		allowSelfSigned: cfg.AllowSelfSigned,
		logger:          log.WithComponent("verifier"),
		cache:           make(map[cacheKey]Result),
	}, nil
}

// Verify checks the module's signature and signer chain. The
// environment selects the mode: development and QA may run permissive
// (self-signed signers accepted) when the verifier allows it, staging
// and production are always strict.
func (v *Verifier) Verify(m *types.Module, env types.Environment) Result {
	permissive := v.allowSelfSigned && !env.RequiresApproval()

	key := cacheKey{
		digest:     m.Artifact.SHA256Digest,
		chain:      sha256.Sum256(m.SignerCertChain),
		permissive: permissive,
	}

	v.mu.RLock()
	cached, ok := v.cache[key]
	v.mu.RUnlock()
	if ok {
		return cached
	}

	result := v.verify(m, permissive)

	v.mu.Lock()
	v.cache[key] = result
	v.mu.Unlock()

	if !result.OK() {
		v.logger.Warn().
			Str("module", m.Ref()).
			Str("verdict", string(result.Verdict)).
			Str("detail", result.Detail).
			Msg("Module verification failed")
	}
	metrics.VerificationsTotal.WithLabelValues(string(result.Verdict)).Inc()

	return result
}

func (v *Verifier) verify(m *types.Module, permissive bool) Result {
	digest, err := hex.DecodeString(m.Artifact.SHA256Digest)
	if err != nil || len(digest) != sha256.Size {
		return Result{VerdictMalformedArtifact, "artifact digest is not a hex sha256"}
	}
	if len(m.Signature) == 0 {
		return Result{VerdictMalformedArtifact, "module carries no signature"}
	}

	chain, err := ParseChainPEM(m.SignerCertChain)
	if err != nil {
		return Result{VerdictMalformedArtifact, "signer certificate chain is not parseable"}
	}
	leaf := chain[0]

	if !v.chainTrusted(leaf, chain[1:], permissive) {
		return Result{VerdictUntrustedSigner, "signer chain does not terminate at a trust root"}
	}

	switch pub := leaf.PublicKey.(type) {
	case *ecdsa.PublicKey:
		if !ecdsa.VerifyASN1(pub, digest, m.Signature) {
			return Result{VerdictBadSignature, "signature does not match artifact digest"}
		}
	case *rsa.PublicKey:
		if err := rsa.VerifyPSS(pub, crypto.SHA256, digest, m.Signature, nil); err != nil {
			return Result{VerdictBadSignature, "signature does not match artifact digest"}
		}
	default:
		return Result{VerdictUntrustedSigner, "signer key type is not supported"}
	}

	return Result{Verdict: VerdictOK}
}

// chainTrusted validates the leaf against the trust roots. In
// permissive mode a self-consistent self-signed leaf also passes.
func (v *Verifier) chainTrusted(leaf *x509.Certificate, intermediates []*x509.Certificate, permissive bool) bool {
	opts := x509.VerifyOptions{
		Roots:     v.roots,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}
	if len(intermediates) > 0 {
		opts.Intermediates = x509.NewCertPool()
		for _, c := range intermediates {
			opts.Intermediates.AddCert(c)
		}
	}

	if _, err := leaf.Verify(opts); err == nil {
		return true
	}
	if !permissive {
		return false
	}
	return leaf.CheckSignatureFrom(leaf) == nil
}

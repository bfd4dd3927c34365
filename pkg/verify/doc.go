/*
Package verify checks module signatures and signer provenance.

Every deployment passes through the verifier before any node is
touched. A module carries a detached signature over its artifact
digest and a PEM certificate chain identifying the signer; the
verifier validates the chain against a configured trust root bundle
and the signature against the chain's leaf key.

# Verdicts

	ok                   signature and chain both check out
	bad-signature        chain is trusted but the signature does not
	                     match the artifact digest
	untrusted-signer     chain parses but does not terminate at a
	                     trust root (or uses an unsupported key type)
	malformed-artifact   digest, signature, or chain is structurally
	                     broken before any cryptography runs

The split between untrusted-signer and malformed-artifact is
deliberate: a chain that cannot even be parsed is a malformed input,
not a trust decision.

# Modes

Strict mode is the only mode for staging and production: the chain
must terminate at a configured trust root, no exceptions. When the
verifier is built with AllowSelfSigned, development and QA accept a
self-consistent self-signed leaf as well. That flag is the single
permitted deviation and it never applies to staging or production,
regardless of configuration.

# Key Types

Leaf keys may be ECDSA P-256 (ASN.1 signatures) or RSA with PSS
padding, both over the raw sha256 artifact digest. All signature math
goes through the crypto package's verification primitives; the
verifier holds no private keys and performs no raw comparisons
against secret material, and verdict details never echo chain or
signature contents.

# Caching

Verification is a pure function of (artifact digest, chain, mode), so
verdicts are cached under that key. The cache is an optimization
only; evicting it can never change an answer.

# Development Signing

DevSigner mints a self-signed ECDSA signer for development clusters,
the simulator, and tests:

	signer, _ := verify.NewDevSigner("local-dev")
	_ = signer.SignModule(module)

	v, _ := verify.New(verify.Config{AllowSelfSigned: true})
	result := v.Verify(module, types.EnvDevelopment) // ok

# See Also

  - pkg/pipeline for the signature-check stage that calls this
  - pkg/driver for where artifact bytes are fetched and re-hashed
*/
package verify

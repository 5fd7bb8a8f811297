// Package umbraerr defines the error-kind taxonomy shared across the
// crypto, wire, identity, and node layers.
package umbraerr

import "errors"

// Crypto-layer conditions. These bubble to the caller and are never
// silently swallowed.
var (
	ErrInvalidKeyLength     = errors.New("invalid key length")
	ErrInvalidSignature     = errors.New("invalid signature")
	ErrKeyDerivation        = errors.New("key derivation failed")
	ErrEncryption           = errors.New("encryption failed")
	ErrDecryption           = errors.New("decryption failed")
	ErrPostQuantum          = errors.New("post-quantum primitive failed")
)

// Protocol/transport conditions.
var (
	ErrProtocol  = errors.New("protocol decode failed")
	ErrTransport = errors.New("transport error")
	ErrDiscovery = errors.New("discovery error")
)

// Identity-layer conditions, surfaced to the CLI.
var (
	ErrInvalidPassword   = errors.New("invalid password")
	ErrProofGeneration   = errors.New("proof generation failed")
	ErrProofVerification = errors.New("proof verification failed")
	ErrSerialization     = errors.New("serialization failed")
	ErrIO                = errors.New("io error")
)

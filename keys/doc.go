// Package keys provides the signing-key capability used by PCL Exchange.
//
// Key material is opaque to callers: a PrivateKey signs bytes and a
// PublicKey verifies them, and both report the JWS algorithm they implement.
// Two schemes are supported:
//   - Ed25519, JWS algorithm "EdDSA" (the default)
//   - ML-DSA-65 (FIPS 204), JWS algorithm "ML-DSA-65"
//
// Importing this package registers ML-DSA-65 with the JWS library so that
// detached tokens can be produced and checked for either scheme.
//
// Key IDs are RFC 7638 JWK thumbprints (SHA-256, base64url).
//
// The filesystem KeyStore is a local convenience for the CLI; it is not part
// of the message protocol.
package keys

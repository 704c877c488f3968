// Package sig signs PCL Exchange envelopes with detached JWS tokens and
// verifies them.
//
// The signed payload is the canonical form of the envelope with its authz
// slot removed. Tokens are compact JWS with an empty payload segment
// (HEADER..SIGNATURE); the verifier rebuilds the payload from the envelope it
// was handed.
//
// Verification reports a tagged Outcome instead of a bare boolean so callers
// can tell an unsigned envelope from a corrupt token or a failed check. An
// error is returned only for conditions that indicate a bug or unusable input
// such as a nil key.
package sig

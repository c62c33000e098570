// Package dispatcher turns a verb, a key, an optional payload and
// a developer credential into one operation against the developer's
// partition and reports a structured response.
//
// Every verb except SETDEV is validated before any storage is touched.
// SETDEV is the bootstrap verb: it takes the credential to register
// from its payload instead of the request credential because no
// registration exists yet. Unrecognized verbs are rejected before validation.
//
// PUT reads and then writes the record in two separate transactions.
// Two concurrent PUTs to the same key may lose one of the merges.
package dispatcher

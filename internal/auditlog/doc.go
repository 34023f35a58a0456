// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auditlog maintains the tamper-evident audit chain.
//
// Every record embeds the hash of its predecessor. The hash is the hex
// SHA-256 of a canonical JSON encoding of
//
//	{actor_id, target_id, action_type, detail, previous_hash, created_at}
//
// with created_at in UTC RFC 3339 at microsecond precision and detail
// re-encoded with sorted keys and plain-decimal numbers (see
// CanonicalDetail). The first record ever
// written has a null previous_hash.
//
// Writers never read-then-write on their own: the ChainStore performs the
// head read, the hash computation and the insert as one serialized step, so
// two appends can never link to the same predecessor.
package auditlog

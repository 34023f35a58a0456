// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package replica copies persisted anomaly batches to secondary stores.
//
// Both replicas are idempotent per batch id: delivering the same batch twice
// stores it once. Replica errors carry operation context but no error code;
// the anomaly engine classifies them as replication failures.
package replica

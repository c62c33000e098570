// Package records implements the partitioned record store: JSON
// documents keyed by id inside named kv partitions.
//
// Every operation runs in its own kv transaction and is therefore atomic
// with respect to a single partition. Nothing spans partitions or spans
// more than one call; Update in particular is a Get followed by a Put and
// a concurrent writer to the same key can slip in between the two.
//
// Partitions are created on first use. Open and EnsurePartition make
// that step explicit, and every other operation performs it implicitly,
// so callers never see a "no such partition" error for a name they have
// not opened before.
package records

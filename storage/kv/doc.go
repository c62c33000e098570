// Package kv provides an interface for implementing
// kv drivers that the record store is built on.
//
// A kv plugin is a factory for root store instances. A root store
// contains zero or more partitions. Each partition is an ordered
// map of keys to values. Transactions for different partitions are
// completely independent from each other: there are no ordering or
// consistency guarantees for transactions spawned from different
// partitions. Within a partition transactions are strictly serializable.
//
//  - Root Store
//    - Partition "root"
//      - developers/dk1: {...}
//      - developers/dk2: {...}
//    - Partition "dev_dk1"
//      - u1: {...}
//    - Partition "dev_dk2"
//
// Partitions are created explicitly with Partition.Create, which is
// idempotent. Nothing in this package ever deletes a single partition.
package kv

// Package ledger defines the key-value contract that backs agent budgets:
// the Store interface shared by every backend, the key layout for ledger
// records and global counters, an in-process backend with Redis-equivalent
// semantics, and first-start seeding.
package ledger

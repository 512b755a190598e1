// Package redis implements the networked ledger backend on top of Redis. It
// provides the key-value primitives the policy engine needs, including the
// token-checked delete used to release distributed locks.
package redis

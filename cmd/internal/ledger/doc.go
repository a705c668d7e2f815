// Package ledger stores group transactions and coordinates their realtime notifications.
//
// Service is the Transaction Coordinator: every successful mutation is persisted first and
// then published once on the owning group's channel. Publishing is best effort and never
// fails a mutation. The store is the only source of ordering; Service holds no locks.
package ledger

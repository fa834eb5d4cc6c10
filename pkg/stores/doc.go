// Package stores is the persistence core of Mizan: a self-migrating embedded
// SQLite store holding user accounts, the risk register, roadmap initiatives,
// sessions and the audit trail.
//
// A Store is opened once per process and shared. Every repository operation
// runs as one unit of work: a connection is acquired (the worker's bound
// connection when the context carries one, otherwise a pooled one), a
// transaction is started, and it is committed when the operation returns
// normally or rolled back when it fails. Units of work nest: an operation
// started with a context that already carries a transaction joins it, so
// callers can compose several repository calls atomically with
// Store.RunUnitOfWork.
//
// Schema evolution is a versioned list of steps. Plain SQL steps are embedded
// under migrations/ and read through the golang-migrate iofs source; steps
// that need to inspect the existing layout are written in Go. Applied
// versions are recorded in the schema_version table, so opening an
// up-to-date store is a no-op.
//
// # Database Configuration
//
//   - WAL journal: read-only units of work (Manager.RunReadOnly) read a
//     snapshot and proceed while a writer holds the lock
//   - busy_timeout: lock waits retry inside the engine up to Config.BusyTimeout;
//     waits for a free pool connection are bounded by the same timeout
//   - foreign_keys=ON: owner references are enforced
//   - BEGIN IMMEDIATE: writing units of work take the lock up front instead of upgrading
package stores

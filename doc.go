// Package decentdb is the core-facing boundary of DecentDB: an embedded,
// single-file relational storage and transaction engine providing
// ACID-durable writes, indexed reads, and snapshot-isolated concurrent
// readers within a single process.
//
// This package is the facade a SQL parser/planner/executor would sit on
// top of; it does not itself understand SQL text. Callers open a
// Database, begin a WriteTxn or ReadTxn, and drive schema and row
// operations directly.
package decentdb

// Package journal records the history of deploy and destroy runs in a
// SQLite database with embedded migrations. The journal is write-only from
// the reconciler's point of view; it backs the history command and is never
// consulted to decide what to converge.
package journal

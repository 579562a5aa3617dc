// Package stores holds short-lived, security-sensitive records outside the
// credential store: OAuth CSRF state, second-factor login challenges and the
// consumed refresh-token ledger.
//
// Redis records are versioned binary blobs with a TTL. Read-modify-write
// paths (RecordFailure) use WATCH/MULTI with bounded retry; one-time reads
// (state Consume) use GETDEL so two racing callers can never both win.
//
// The package never generates tokens or makes authentication decisions and
// never logs record contents.
package stores

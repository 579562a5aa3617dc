// Package gameauth is the authentication core of the game platform.
//
// An [Engine] issues and verifies access, refresh and second-factor challenge
// tokens, runs password login with an optional TOTP or backup-code challenge,
// links external OAuth identities to local accounts, and deletes accounts by
// first removing the data held by dependent services.
//
// Engine methods are safe for concurrent use once [Builder.Build] returns.
// Credential records live behind a [credstore.Store]; short-lived state
// (challenges, CSRF states, refresh ledger, rate counters) lives in Redis.
//
// Every failure a client should see maps to one stable code via [ErrorCode].
package gameauth

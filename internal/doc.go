// Package internal holds helpers private to gameauth: random token
// generation for CSRF state and uniform index sampling for backup codes.
//
// Sub-packages:
//
//   - audit: async event dispatch and sinks (JSON, zap, Kafka)
//   - flows: login, challenge and deletion orchestration over injected deps
//   - rate: Redis fixed-window counters
//   - stores: CSRF state, challenge ledger and refresh ledger
//   - httpapi, config, logging: the gameauthd server surface
package internal

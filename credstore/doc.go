// Package credstore defines the identity record, the two-factor enrollment
// variant and the Store contract shared by the memory, postgres and sqlite
// adapters.
//
// # Invariants
//
//   - An active identity always has a password hash or at least one provider link.
//   - A provider user id maps to at most one identity per provider.
//   - Two-factor state changes only through [TwoFactor] transitions; the staged
//     and permanent fields never coexist.
package credstore

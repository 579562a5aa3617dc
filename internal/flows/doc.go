// Package flows holds the multi-step orchestrations of the engine: password
// login, second-factor challenge completion and the account deletion saga.
//
// Each Run* function takes a Deps struct of function fields and owns no
// resources; the root engine wires its stores, token manager and hasher in.
// Flows never import the root package.
package flows

// Package cascade runs the dependent-service half of account deletion.
//
// [Run] calls each [Dependent] in order with a per-call deadline and stops at
// the first failure. There is no compensation step: a dependent that already
// deleted data stays deleted, and [Result.Completed] records which ones did so
// a retry can be reasoned about. Dependents must treat repeated deletes of the
// same user as success.
package cascade

// Package middleware guards HTTP handlers with gameauth access tokens.
//
// [RequireStrict] verifies the token and rejects inactive accounts;
// [RequireJWTOnly] verifies the token alone. [Gin] adapts either guard to a
// gin route group. Authenticated handlers read the caller with
// [PrincipalFromContext].
package middleware

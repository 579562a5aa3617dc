// Package jwt issues and verifies purpose-tagged tokens (access, refresh and
// second-factor challenge) with strict issuer, audience and expiry checks.
package jwt

// Package oauth adapts external identity providers to one small contract:
// build an authorization URL for a state and PKCE verifier, then exchange the
// returned code for a normalized [Profile].
//
// [OIDCProvider] uses discovery and verifies the id_token with go-oidc.
// [OAuth2Provider] covers plain OAuth2 providers that expose a JSON userinfo
// endpoint. Both report failures as [*ProviderError] so callers can classify
// them without string matching.
//
// Providers never create, link or look up local accounts.
package oauth

package oauth

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a provider failure.
type ErrorKind string

const (
	// KindDenied means the user or provider refused authorization at the
	// redirect (access_denied and friends).
	KindDenied ErrorKind = "denied"
	// KindCallback is any other error reported on the callback query.
	KindCallback ErrorKind = "callback"
	KindExchange ErrorKind = "exchange"
	KindProfile  ErrorKind = "profile"
	KindTimeout  ErrorKind = "timeout"
)

// ProviderError describes a failed interaction with a provider.
type ProviderError struct {
	Provider    string
	Kind        ErrorKind
	Code        string
	Description string
	Err         error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("oauth %s: %s", e.Provider, e.Kind)
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	if e.Description != "" {
		msg += ": " + e.Description
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Err }

// CallbackError classifies the error and error_description parameters a
// provider appends to the redirect.
func CallbackError(provider, code, description string) *ProviderError {
	kind := KindCallback
	switch code {
	case "access_denied", "consent_required", "login_required", "interaction_required":
		kind = KindDenied
	}
	return &ProviderError{Provider: provider, Kind: kind, Code: code, Description: description}
}

// wrap tags err with kind, promoting deadline overruns to KindTimeout.
func wrap(provider string, kind ErrorKind, err error) *ProviderError {
	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	}
	return &ProviderError{Provider: provider, Kind: kind, Err: err}
}

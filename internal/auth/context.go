package auth

import (
	"context"
	"strings"
)

type userContextKey struct{}
type credentialContextKey struct{}

// ContextWithUser attaches the current user to the context.
func ContextWithUser(ctx context.Context, user CurrentUser) context.Context {
	return context.WithValue(ctx, userContextKey{}, &user)
}

// UserFromContext extracts the current user from the context.
func UserFromContext(ctx context.Context) (CurrentUser, bool) {
	if ctx == nil {
		return CurrentUser{}, false
	}
	v, ok := ctx.Value(userContextKey{}).(*CurrentUser)
	if !ok || v == nil {
		return CurrentUser{}, false
	}
	return *v, true
}

// ContextWithCredential attaches the raw session credential so downstream calls to the
// content API can forward it as a bearer token. Blank credentials leave ctx unchanged.
func ContextWithCredential(ctx context.Context, credential string) context.Context {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return ctx
	}
	return context.WithValue(ctx, credentialContextKey{}, credential)
}

// CredentialFromContext returns the credential attached by ContextWithCredential.
func CredentialFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	credential, _ := ctx.Value(credentialContextKey{}).(string)
	return credential, credential != ""
}

// Package auth verifies Firebase ID tokens for app users and Google-signed OIDC tokens for
// internal callers.
package auth

import (
	"context"

	firebaseauth "firebase.google.com/go/v4/auth"
)

// Identity is the signed-in app user behind a request.
type Identity struct {
	UID            string
	Email          string
	Name           string
	EmailVerified  bool
	SignInProvider string

	token *firebaseauth.Token
}

// Token exposes the verified Firebase token.
func (i *Identity) Token() *firebaseauth.Token {
	if i == nil {
		return nil
	}
	return i.token
}

// Anonymous reports whether the user signed in with Firebase anonymous auth.
func (i *Identity) Anonymous() bool {
	return i != nil && i.SignInProvider == "anonymous"
}

type identityKey struct{}

func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

// UID returns the caller's UID, or "" for anonymous requests.
func UID(ctx context.Context) string {
	if identity, ok := IdentityFromContext(ctx); ok {
		return identity.UID
	}
	return ""
}

func identityFromToken(token *firebaseauth.Token) *Identity {
	identity := &Identity{
		UID:            token.UID,
		Email:          stringClaim(token.Claims, "email"),
		Name:           stringClaim(token.Claims, "name"),
		SignInProvider: token.Firebase.SignInProvider,
		token:          token,
	}
	if verified, ok := token.Claims["email_verified"].(bool); ok {
		identity.EmailVerified = verified
	}
	return identity
}

func stringClaim(claims map[string]any, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}

package auth

import "context"

type principalContextKey struct{}
type capabilitiesContextKey struct{}

// ContextWithPrincipal attaches the authenticated principal to the context.
func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, &principal)
}

// PrincipalFromContext extracts the authenticated principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	v, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || v == nil {
		return Principal{}, false
	}
	return *v, true
}

// ContextWithCapabilities caches the resolved capability set for the request.
func ContextWithCapabilities(ctx context.Context, caps CapabilitySet) context.Context {
	return context.WithValue(ctx, capabilitiesContextKey{}, caps)
}

// CapabilitiesFromContext returns a previously resolved capability set.
func CapabilitiesFromContext(ctx context.Context) (CapabilitySet, bool) {
	if ctx == nil {
		return CapabilitySet{}, false
	}
	v, ok := ctx.Value(capabilitiesContextKey{}).(CapabilitySet)
	return v, ok
}

package sessionguard

import "context"

type sourceAddressContextKey struct{}
type userAgentContextKey struct{}
type requestFingerprintContextKey struct{}

// WithSourceAddress attaches the caller's network address to ctx so
// middleware can hand binding data down without threading a SecurityContext
// through every layer.
func WithSourceAddress(ctx context.Context, address string) context.Context {
	return context.WithValue(ctx, sourceAddressContextKey{}, address)
}

// WithUserAgent attaches the client user agent string to ctx.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

// WithRequestFingerprint attaches raw request fingerprint material to ctx.
func WithRequestFingerprint(ctx context.Context, fingerprint string) context.Context {
	return context.WithValue(ctx, requestFingerprintContextKey{}, fingerprint)
}

// SecurityContextFromContext assembles a SecurityContext from values placed
// on ctx by the With* helpers. Missing values stay empty.
func SecurityContextFromContext(ctx context.Context) SecurityContext {
	if ctx == nil {
		return SecurityContext{}
	}

	sctx := SecurityContext{}
	sctx.SourceAddress, _ = ctx.Value(sourceAddressContextKey{}).(string)
	sctx.UserAgent, _ = ctx.Value(userAgentContextKey{}).(string)
	sctx.RequestFingerprint, _ = ctx.Value(requestFingerprintContextKey{}).(string)
	return sctx
}

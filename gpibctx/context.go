// Package gpibctx carries per-call flags for bus drivers on a context.
package gpibctx

import "context"

type ctxIndex int

const (
	ctxIndexVerbose ctxIndex = iota
	ctxIndexTag
)

// IsVerbose reports whether wire frames should be dumped for calls made with ctx.
func IsVerbose(ctx context.Context) bool {
	val, ok := ctx.Value(ctxIndexVerbose).(bool)
	return ok && val
}

func SetVerbose(ctx context.Context, value bool) context.Context {
	return context.WithValue(ctx, ctxIndexVerbose, value)
}

// Tag returns the label attached with WithTag, or an empty string.
func Tag(ctx context.Context) string {
	val, _ := ctx.Value(ctxIndexTag).(string)
	return val
}

// WithTag labels bus traffic made with ctx (typically the instrument name) so
// wire dumps can be told apart.
func WithTag(ctx context.Context, tag string) context.Context {
	return context.WithValue(ctx, ctxIndexTag, tag)
}

package auth

import (
	"context"

	"ProvChain/internal/ledger"
)

// principalKey 是上下文中存储调用方身份的键类型。
type principalKey struct{}

// WithPrincipal 将经过认证的调用方身份存储到上下文中。
func WithPrincipal(ctx context.Context, principal ledger.Principal) context.Context {
	if principal == "" {
		return ctx
	}
	return context.WithValue(ctx, principalKey{}, principal)
}

// PrincipalFromContext 从上下文中提取经过认证的调用方身份。
func PrincipalFromContext(ctx context.Context) ledger.Principal {
	if ctx == nil {
		return ""
	}
	if principal, ok := ctx.Value(principalKey{}).(ledger.Principal); ok {
		return principal
	}
	return ""
}

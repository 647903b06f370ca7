package utils

import (
	"context"

	"github.com/mmdatafocus/purchase_ledger/appctx"
)

// Alias the shared context key type so callers don't need appctx.
type contextKey = appctx.ContextKey

var (
	ContextKeyToken          = appctx.ContextKeyToken
	ContextKeyBusinessId     = appctx.ContextKeyBusinessId
	ContextKeyUsername       = appctx.ContextKeyUsername
	ContextKeyUserId         = appctx.ContextKeyUserId
	ContextKeyUserName       = appctx.ContextKeyUserName
	ContextKeyCorrelationId  = appctx.ContextKeyCorrelationId
	ContextKeyIdempotencyKey = appctx.ContextKeyIdempotencyKey
	ContextKeyIsAdmin        = appctx.ContextKeyIsAdmin
)

func GetTokenFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyToken)
}

func GetBusinessIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyBusinessId)
}

func GetUsernameFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyUsername)
}

func GetUserIdFromContext(ctx context.Context) (int, bool) {
	return appctx.GetInt(ctx, ContextKeyUserId)
}

func GetUserNameFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyUserName)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func GetIdempotencyKeyFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyIdempotencyKey)
}

func GetIsAdminFromContext(ctx context.Context) bool {
	v, _ := appctx.GetBool(ctx, ContextKeyIsAdmin)
	return v
}

func SetTokenInContext(ctx context.Context, token string) context.Context {
	return appctx.Set(ctx, ContextKeyToken, token)
}

func SetBusinessIdInContext(ctx context.Context, businessId string) context.Context {
	return appctx.Set(ctx, ContextKeyBusinessId, businessId)
}

func SetUsernameInContext(ctx context.Context, username string) context.Context {
	return appctx.Set(ctx, ContextKeyUsername, username)
}

func SetUserIdInContext(ctx context.Context, userId int) context.Context {
	return appctx.Set(ctx, ContextKeyUserId, userId)
}

func SetUserNameInContext(ctx context.Context, userName string) context.Context {
	return appctx.Set(ctx, ContextKeyUserName, userName)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

func SetIdempotencyKeyInContext(ctx context.Context, key string) context.Context {
	return appctx.Set(ctx, ContextKeyIdempotencyKey, key)
}

func SetIsAdminInContext(ctx context.Context, isAdmin bool) context.Context {
	return appctx.Set(ctx, ContextKeyIsAdmin, isAdmin)
}

// GetActorFromContext returns the display name used in created_by columns.
func GetActorFromContext(ctx context.Context) string {
	if name, ok := GetUserNameFromContext(ctx); ok && name != "" {
		return name
	}
	if username, ok := GetUsernameFromContext(ctx); ok && username != "" {
		return username
	}
	return "System"
}

package utils

import (
	"context"

	"github.com/mmdatafocus/order_printer/appctx"
)

var (
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
	ContextKeyNodeId        = appctx.ContextKeyNodeId
	ContextKeySource        = appctx.ContextKeySource
)

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

func GetNodeIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyNodeId)
}

func SetNodeIdInContext(ctx context.Context, nodeId string) context.Context {
	return appctx.Set(ctx, ContextKeyNodeId, nodeId)
}

func GetSourceFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeySource)
}

func SetSourceInContext(ctx context.Context, source string) context.Context {
	return appctx.Set(ctx, ContextKeySource, source)
}

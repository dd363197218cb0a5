package utils

import (
	"context"

	"bitbucket.org/mmdatafocus/billing_backend/appctx"
)

var (
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
	ContextKeySweepType     = appctx.ContextKeySweepType
	ContextKeyTriggeredBy   = appctx.ContextKeyTriggeredBy
)

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

func GetSweepTypeFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeySweepType)
}

func SetSweepTypeInContext(ctx context.Context, sweepType string) context.Context {
	return appctx.Set(ctx, ContextKeySweepType, sweepType)
}

func GetTriggeredByFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyTriggeredBy)
}

func SetTriggeredByInContext(ctx context.Context, triggeredBy string) context.Context {
	return appctx.Set(ctx, ContextKeyTriggeredBy, triggeredBy)
}

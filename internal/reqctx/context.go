package reqctx

import "context"

type ctxKey string

const (
	keyRID           ctxKey = "rid"
	keyTransactionID ctxKey = "transaction_id"
)

// WithRID stores the request correlation id used in log lines.
func WithRID(ctx context.Context, rid string) context.Context {
	return context.WithValue(ctx, keyRID, rid)
}

// RID returns correlation id if present, "-" otherwise.
func RID(ctx context.Context) string {
	if v, _ := ctx.Value(keyRID).(string); v != "" {
		return v
	}
	return "-"
}

func WithTransactionID(ctx context.Context, id uint64) context.Context {
	return context.WithValue(ctx, keyTransactionID, id)
}

func TransactionID(ctx context.Context) uint64 {
	v, _ := ctx.Value(keyTransactionID).(uint64)
	return v
}

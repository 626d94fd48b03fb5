package store

import "context"

// Run calls fn inside a transaction on the provided TxRunner
func Run(ctx context.Context, tx TxRunner, fn func(ctx context.Context, q RowQuerier) error) error {
	return tx.Tx(ctx, func(q RowQuerier) error {
		return fn(ctx, q)
	})
}

// RunWithTick stamps ctx with a tick id and calls fn inside the provided TxRunner
// so every statement an engine pass issues can be tied back to its tick
func RunWithTick(ctx context.Context, tx TxRunner, tickID string, fn func(ctx context.Context, q RowQuerier) error) error {
	ctx = WithTickID(ctx, tickID)
	return tx.Tx(ctx, func(q RowQuerier) error {
		return fn(ctx, q)
	})
}

package kv

import (
	"context"
	"time"
)

// ObserveFunc receives the outcome of every store operation.
type ObserveFunc func(op string, elapsed time.Duration, err error)

type observed struct {
	next    Store
	observe ObserveFunc
}

// WithObserver wraps a store so that each operation is reported to fn.
func WithObserver(next Store, fn ObserveFunc) Store {
	if fn == nil {
		return next
	}
	return &observed{next: next, observe: fn}
}

func (o *observed) Get(ctx context.Context, key string) (string, bool, error) {
	start := time.Now()
	v, ok, err := o.next.Get(ctx, key)
	o.observe("get", time.Since(start), err)
	return v, ok, err
}

func (o *observed) Put(ctx context.Context, key, value string) error {
	start := time.Now()
	err := o.next.Put(ctx, key, value)
	o.observe("put", time.Since(start), err)
	return err
}

func (o *observed) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := o.next.Delete(ctx, key)
	o.observe("delete", time.Since(start), err)
	return err
}

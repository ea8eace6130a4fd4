package binmc

import "context"

// Querier is the operation surface shared by Client and PooledClient.
// Code that only issues cache operations can depend on this interface
// and stay agnostic of the routing and pooling strategy.
type Querier interface {
	Get(ctx context.Context, key string) (Item, error)
	GetKey(ctx context.Context, key string) (Item, error)
	GetAndTouch(ctx context.Context, key string, expiration uint32) (Item, error)
	Set(ctx context.Context, key string, value []byte, flags, expiration uint32) error
	SetCAS(ctx context.Context, key string, value []byte, flags, expiration uint32, cas uint64) (uint64, error)
	Add(ctx context.Context, key string, value []byte, flags, expiration uint32) error
	Replace(ctx context.Context, key string, value []byte, flags, expiration uint32) error
	Append(ctx context.Context, key string, value []byte) error
	Prepend(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Increment(ctx context.Context, key string, delta, initial uint64, expiration uint32) (uint64, error)
	Decrement(ctx context.Context, key string, delta, initial uint64, expiration uint32) (uint64, error)
	Touch(ctx context.Context, key string, expiration uint32) error

	GetMulti(ctx context.Context, keys []string) (map[string]Item, error)
	SetMulti(ctx context.Context, entries []Entry) error
	DeleteMulti(ctx context.Context, keys []string) error
	IncrementMulti(ctx context.Context, counters []Counter) (map[string]uint64, error)
}

var (
	_ Querier = (*Client)(nil)
	_ Querier = (*PooledClient)(nil)
)

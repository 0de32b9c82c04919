// Package storage defines the Store contract used by the worker's layered
// storage path.
//
// # Layers
//
// The worker composes two implementations:
//
//   - persistent.Store: a local, durable, content-addressed cache under
//     <cache-dir>/storage with an in-memory hot tier
//   - the protocol handler, which forwards Get and Put to the host
//
// multilayer.Backend stacks them. Layer 0 is always consulted first, misses
// fall through to later layers and are written back into earlier ones, and
// writes go to every layer in order.
//
// # Keys
//
// ContentKey derives a key from data (hex SHA-256). ValidateKey is applied
// by every layer, so a key can never name a path outside the cache
// directory.
//
//	key := storage.ContentKey(blob)
//	if err := backend.Put(ctx, key, blob); err != nil {
//	    return err
//	}
//	data, err := backend.Get(ctx, key)
//	if errors.Is(err, errors.ErrKeyNotFound) {
//	    // absent in every layer
//	}
package storage

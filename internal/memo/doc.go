// Package memo memoizes loader and forecast results.
//
// Keys are content addressed: Key hashes the JSON encoding of its
// arguments and FileKey hashes the bytes of an input file, so a changed
// input always maps to a new key. Values are stored as JSON in a Store,
// either the in-process MemoryStore or a RedisStore shared between
// replicas. Cache.Do collapses concurrent computations of the same key.
//
// Watcher evicts the load entries of a data file as soon as it changes
// on disk:
//
//	w, err := memo.NewWatcher(paths.DataDir, cache, logger, onChange)
//	go w.Run(ctx)
package memo

// Package cache provides the in-process sectioned cache and its persistence
// backends.
//
// A Store holds named sections. Every mutation marks the section and the
// store as altered; a periodic Flush writes the full section set to a Backend
// and clears the flags only once the backend acknowledged the write.
//
// # Backends
//
//   - FileBackend: one JSON object file
//   - SQLBackend: one row per section (database/sql)
//   - DocumentBackend: one JSON document per section in an S3-compatible bucket
//
// # Usage
//
//	store := cache.NewStore()
//	backend := cache.NewFileBackend("cache.json")
//	if err := backend.VerifySchema(ctx); err != nil {
//	    return err
//	}
//	sections, err := backend.ReadAll(ctx)
//	if err != nil {
//	    return err
//	}
//	store.Load(sections)
//
//	store.Set("counters", map[string]any{"visits": 1}, false)
//	go store.FlushLoop(ctx, backend, time.Minute, nil, nil)
package cache

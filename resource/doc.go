// Package resource implements the resource controller shared by a cache's
// regions and its background demotion worker.
//
//   - Memory: heap and direct regions reserve their bytes up front; a
//     configured limit makes region preparation fail fast.
//   - Concurrency: the demotion worker holds a background slot for its
//     lifetime.
//   - IO: demotion traffic can be throttled with a token bucket so it does
//     not starve foreground puts.
//
// All methods handle a nil Controller gracefully - they become no-ops.
package resource

// Package lock provides cross-process refresh locks for clients that share a
// credential backend.
//
// Without a lock, two processes that see the same expired access token both
// call the refresh endpoint and the second call can invalidate the first
// rotation. Holding a lock around the refresh cycle lets the second process
// observe the already rotated credentials instead.
package lock

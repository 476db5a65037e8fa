// Package redis persists agent conversation history in Redis so a thread
// survives restarts and is shared between the daemon's workers.
package redis

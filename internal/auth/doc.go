// Package auth guards the task and history endpoints with static bearer
// tokens. With no tokens configured every request passes through.
package auth

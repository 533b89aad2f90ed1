// Package queue wraps the ephemeral job-execution engine (asynq on Redis)
// behind a narrow contract: fetch-by-id, live metadata, and stop/cancel
// commands. Jobs can vanish from the engine independently of the durable
// task store; callers treat ErrJobNotFound as a normal condition.
package queue

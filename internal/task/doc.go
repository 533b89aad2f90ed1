// Package task defines the durable task model and the lifecycle operations
// built on top of it: status reconciliation against the queue engine and
// recursive cancellation of task subtrees.
package task

// Package updatequeue executes per-user work with FIFO ordering per lane.
//
// Invariants:
// - Tasks in the same lane run serially in enqueue order.
// - Tasks in different lanes run concurrently.
// - Close stops intake, drains every lane, then returns.
// - Idle lanes retire their worker; a later Enqueue restarts it.
//
// Usage:
//
//	queue := updatequeue.New(updatequeue.Options{})
//	defer queue.Close()
//	err := queue.Enqueue(userID, func(ctx context.Context) error {
//		return handleTurn(ctx)
//	})
package updatequeue

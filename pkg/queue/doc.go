// Package queue is a storage-agnostic task queue with delayed, retried and
// periodic execution.
//
// Three components talk to storage only through small repository interfaces:
//
//   - Enqueuer adds one-time tasks.
//   - Scheduler turns a Schedule into pending tasks, one pending task per name.
//   - Worker claims due tasks and dispatches them to a Handler.
//
// MemoryStorage implements every interface in memory. A PostgreSQL
// implementation lives in internal/repository.
//
// # Failures
//
// A handler error retries the task with linear backoff until MaxRetries is
// exhausted, then the task moves to the dead letter queue. Wrap an error with
// Permanent to skip the retries:
//
//	worker.RegisterHandlers(queue.NewTaskHandler(func(ctx context.Context, p ProcessEvent) error {
//		if err := apply(ctx, p); errors.Is(err, ErrMalformed) {
//			return queue.Permanent(err)
//		} else if err != nil {
//			return err
//		}
//		return nil
//	}))
//
// # Correlation
//
// Enqueue copies the request id from ctx (see package requestid) onto the task,
// and the worker restores it before calling the handler, so logs from a
// webhook request and its asynchronous processing share one id.
//
// # Periodic tasks
//
//	sched, _ := queue.Cron("@every 5m")
//	scheduler.AddTask("reconcile_expired", sched)
//	worker.RegisterHandlers(queue.NewPeriodicTaskHandler("reconcile_expired", sweep))
package queue

// Package threads is an in-process concurrency runtime built from three
// primitives: managed worker threads with a cooperative stop protocol, task
// queues that dispatch immediate, delayed and result-bearing work onto those
// threads, and typed signals that fan one emission out to many listeners,
// each pinned to its own queue.
//
// Quick start:
//
//	q := threads.NewSerialTaskQueue("worker")
//	defer q.Stop()
//
//	result, err := threads.SendSync(context.Background(), q,
//		func(ctx context.Context) (int, error) {
//			return 42, nil
//		})
//
// Signals fan out to listeners on their own queues:
//
//	s := threads.NewSignal[string]()
//	conn := s.Connect(q, func(ctx context.Context, msg string) {
//		fmt.Println(msg)
//	})
//	defer conn.Close()
//	s.Emit(context.Background(), "hello")
//
// The heavy lifting lives in the core package; this package re-exports the
// common surface so most users import only threads.
package threads

// Package bridge gives every hardware action a blocking and a suspendable form.
//
// Instrument drivers usually implement only one calling convention for each of
// the three hardware actions (write, read, ask). The bridge synthesises the
// other one so callers can always pick the form that suits them:
//
//   - Blocking from suspendable: the task is driven to completion and its
//     result returned.
//   - Suspendable from blocking: the task yields once (a cooperative suspend
//     point) and then runs the blocking form.
//
// A Task is cooperative rather than concurrent: nothing runs until the first
// Await, and the result is memoised for any later Await.
//
// # Implementation detection
//
// Each action has four candidate slots (Slots): the driver's own blocking and
// suspendable forms, and an intermediate layer's blocking and suspendable
// adapters. Resolve picks the first populated forms. When every slot is empty
// both forms become permanent stubs failing with ErrUnimplemented, naming the
// owning instrument and the action.
//
// # Usage
//
//	ask := bridge.Resolve("dmm", "ask", bridge.Slots[string, string]{
//	    Sync: drv.Ask,
//	})
//	v, err := ask.Async(ctx, "*IDN?").Await(ctx)
package bridge

// Package dispatch decides where an instrument's hardware actions execute.
//
// Every hardware action and attribute operation is expressed as a Command
// and handed to the instrument's Dispatcher, chosen once at construction:
//
//   - Local executes the command immediately in the calling goroutine. Both
//     Call and Post surface errors synchronously.
//   - Remote forwards the command over a Link to a named Delegate: a single
//     worker that owns the hardware connection and executes requests from all
//     attached instruments strictly in arrival order.
//
// # Call and Post
//
// Call blocks until the delegate has executed the command and returns its
// result or error (a *DelegateError preserving the original kind and
// message). Post enqueues and returns. A failed Post cannot be reported at
// its own call site: the delegate sends the failure back in the Post's
// response and the posting Remote returns it from its next Post or Call,
// exactly once. A Call always reports every earlier failed Post, since the
// delegate answers in order. A Post reports only those whose response has
// already arrived, so which of several quick Posts carries a failure
// depends on timing. Nothing stronger is promised.
//
// # Recursion
//
// Commands run with a context marked by the executing Delegate. A Remote
// asked to dispatch from such a context, to that same delegate, runs the
// command in place instead of queueing behind itself.
//
// # Failure
//
// Once a delegate stops unexpectedly, Calls fail with
// ErrConnectionUnavailable. Posts still queued (or sent and unacknowledged)
// are never replayed; the next interaction reports them with ErrPostsLost.
//
// # Delegates
//
// Hub is the in-process Connector: it creates named delegates on first use,
// keeps the extras of whichever instrument created them, and hands later
// attachers the same extras map. Cross-process delegates live in package
// mqttlink.
package dispatch

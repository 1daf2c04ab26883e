// Package instrument provides the Instrument: a named hardware-control
// object whose hardware actions and attribute operations run either in the
// calling goroutine or on a named delegate that owns the device connection.
//
// # Drivers
//
// A concrete instrument is a driver value passed to New. The driver opts in
// to capabilities by implementing small interfaces:
//
//   - Writer or AsyncWriter, Reader or AsyncReader, Asker or AsyncAsker
//     supply the hardware actions. Either calling convention is enough; the
//     other is synthesised. A Fallback value implementing the same
//     interfaces fills in when the driver supplies neither form.
//   - Initializer declares parameters and functions before construction
//     completes. Declarations are visible on every copy of the instrument.
//   - ConnectHook opens the hardware connection. It runs on the copy that
//     executes commands: in New for local instruments, on the delegate
//     otherwise, and again whenever a restarted delegate re-attaches.
//
// # Dispatch
//
// Write, SetAttr and DelAttr are posted: they return once queued, and a
// failure surfaces on a later call to the same delegate. Read, Ask, GetAttr
// and parameter reads are calls and report their own failures. Without a
// server every command runs immediately and reports its own failure.
//
// # Instances
//
// Every instrument is tracked weakly under the exact type of its driver.
// Instances[D] returns the live instruments built with a D, never those built
// with a type that merely embeds D.
package instrument

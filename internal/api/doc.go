// Package api implements the HTTP REST API of the instrument hub.
//
// This package provides:
//   - Read-only views of delegates, worker processes and instruments
//   - Parameter get/set and function calls routed through each
//     instrument's delegate
//   - Live snapshots and the stored snapshot history
//   - Middleware stack (request ID, logging, recovery, body limit)
//
// # Errors
//
// Handler errors are mapped onto structured JSON responses. A delegate that
// cannot be reached answers 503, a failed hardware command answers 502, and
// unknown instruments or members answer 404.
package api

// Package mi implements the command channel to a GDB backend running in
// MI (machine interface) mode.
//
// The package has two halves:
//
//   - Record parsing: classifying the backend's output lines into result
//     records, async records, stream records, and the ready prompt, and
//     extracting top-level fields. Only the outermost key="value" pairs are
//     interpreted; nested tuples and lists are kept as raw text, since the
//     adapter only ever inspects the result class and the msg field.
//
//   - The Channel: commands are posted with a numeric token and an optional
//     completion handler. When the backend answers with a result record
//     carrying the same token, the handler runs exactly once, in the order
//     responses arrive. Handlers registered when the channel is torn down
//     are skipped, never invoked.
//
// All dispatch happens on a single receive goroutine, so no two handlers
// run concurrently for the same channel.
package mi

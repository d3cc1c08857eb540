// Package dispatch routes control commands to worker inboxes and account
// events through per-account handler chains.
//
// Command routing:
//   - A command names exactly one worker; the registry maps worker names to
//     live inboxes
//   - Found inboxes receive the payload unmodified
//   - Unknown workers and malformed payloads are logged and dropped
//   - Nothing is queued or retried here; callers own resubmission
//
// Event routing:
//   - (account, conversation, event type) resolves to an ordered handler list
//   - Handlers run strictly one after another; each call returns before the
//     next starts, so later handlers see earlier handlers' side effects
//   - A failing or panicking handler is logged and the chain continues
//   - Unconfigured (conversation, event type) pairs are ignored
package dispatch

// Package dispatch is the per-session query controller.
//
// A Dispatcher turns each input change into an engine.Execution, cancelling
// and detaching the previous one first so its results never reach the
// frontend again. It forwards model events to a single listener and keeps
// every execution of the session for statistics.
//
// Session lifecycle:
//   - SetupSession calls every query handler's setup hook, one at a time.
//   - StartQuery never blocks on handlers.
//   - TeardownSession calls the teardown hooks, clears the frontend model,
//     persists the statistics of all executions in one transaction and
//     recomputes usage scores from the stored history.
//
// Executions still running at teardown are not waited for; they are
// dropped once they finish.
package dispatch

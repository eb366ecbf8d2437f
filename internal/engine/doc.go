// Package engine runs one query against a set of handlers.
//
// An Execution resolves triggers when it is created, fans the query out to
// its handlers on a shared Pool, merges their matches and ranks them. Batch
// handlers are merged once when all of them return. Realtime handlers are
// merged on a fixed cadence while they run.
//
// Results are exposed through the query.Model contract. Notifications go to
// a single listener; Cancel detaches it before returning, so a superseded
// execution never talks to the frontend again.
package engine

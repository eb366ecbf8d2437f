// Package query holds the state shared between one query execution and
// the handlers serving it, plus the result-model contract frontends consume.
//
// Handlers receive a *Query, append matches to it from any goroutine and
// poll IsValid (or the context they were given) to stop early. The
// execution drains the pending buffer when it merges.
package query

// Package store keeps the transcript of a polling session.
//
// Every state transition, message sent, message received, response timeout
// and transport error of a session is appended to a [Store] as an [Event].
// The transcript is what the CLI writes with --transcript and what tests use
// to assert on the exact wire conversation. Clients keep one only on request.
//
// The main components are:
//
//   - [Store]: Interface defining the append-only transcript operations
//   - [MemoryStore]: In-memory implementation of Store
//   - [Event]: Storage representation of a single session event
//
// Users of the tcppoll library should not need to interact with this
// package directly. The transcript is exposed through tcppoll.Client.
package store

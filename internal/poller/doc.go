// Package poller implements the polling client state machine.
//
// This package is internal to tcppoll and owns one TCP connection per
// [Session]: it connects, writes numbered poll requests on a fixed cadence,
// interprets the peer's replies and tears the connection down on a
// termination token, an exhausted request budget, a peer half-close or a
// transport error.
//
// The main components are:
//
//   - [Session]: The connection lifecycle, send-timer and response-timeout
//   - [Config]: Everything a session needs to run
//   - [Event]: One entry of what happened during a session
//   - [Classifier]: Interpretation of inbound messages
//
// A session runs on a single goroutine; a helper goroutine only reads the
// socket. Users of the tcppoll library should not need to interact with this
// package directly. Configuration is done through the main tcppoll package.
package poller

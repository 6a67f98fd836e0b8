// Package replay streams recorded bag messages against a system under
// test inside an isolated execution environment (open-loop testing).
//
// Each session follows a strict state machine:
//
//	Pending -> Running -> {Completed, Failed, Cancelled, TimedOut}
//
// and binds exactly one environment, torn down exactly once on every
// exit path. Message delivery reproduces the original inter-message
// timing scaled by a speed factor; pacing goes through an injectable
// clock so tests never block on the wall clock.
//
// Environment provisioning is abstracted behind the Runtime interface;
// package dockerd implements it against the Docker Engine API.
package replay

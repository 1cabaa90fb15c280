// Package queue provides the at-least-once delivery channel between share
// pack submission and asynchronous provisioning.
//
// Two backends implement the Queue interface: an Amazon SQS client for
// production deployments and a SQLite-backed queue for single-node setups
// and tests. Both use a lease (visibility timeout) model: a received message
// stays invisible for the lease duration and reappears if not acknowledged,
// so a crashed worker's message is redelivered to another.
//
// The Consumer polls a Queue and drives the orchestrator. Acknowledgement
// policy: success and non-retryable failures acknowledge immediately;
// retryable failures leave the message for redelivery until the retry budget
// is spent, at which point the pack is marked FAILED and the message
// acknowledged.
package queue

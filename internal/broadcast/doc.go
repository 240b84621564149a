// Package broadcast delivers asynchronous host results to one-shot receivers.
//
// A receiver subscribes under an action key before the host operation is
// triggered and hands the subscription's sender to the host. A single
// dispatcher goroutine resolves every delivered (action, result) message to
// the subscription registered for that action, unregisters it and runs its
// handler, so each receiver fires at most once.
package broadcast

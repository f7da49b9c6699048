// Package bus delivers alarm change events to independent subscribers.
//
// Every subscriber owns an unbounded FIFO mailbox drained by its own
// goroutine, so a slow or failing subscriber never blocks the publisher or
// its peers. Failed deliveries are retried a bounded number of times before
// being reported, which gives at-least-once delivery in publish order.
package bus

// Package arbiter multiplexes one Transport between a service loop and any
// number of concurrent callers.
//
// The service loop calls Receive in a loop and gets back only invocations and
// oneways. Replies are matched by sequence number to calls registered through
// Register and woken in Await. Receive is the only reader of the Transport.
//
// A caller must Register before it sends the matching request; Call does the
// whole register, send, await sequence.
package arbiter

// Package node implements a testbed node session.
//
// A Session owns the node's clocks, the causal delivery engine, the
// mutual-exclusion coordinator and the fault rule tables. It routes
// inbound messages through the receive rules into ordinary or causal
// delivery, and outbound messages through the send rules to a Transport.
//
// Operator commands:
//
//	Send                    ordinary message, ticks the main clock
//	Multicast               causally ordered group multicast
//	RequestCriticalSection  ask the mutual-exclusion group for permission
//	ReleaseCriticalSection  leave the critical section
//	Mark                    timestamped marker for the log collector
//
// Delivered messages are consumed with Next.
package node

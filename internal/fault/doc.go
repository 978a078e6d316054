// Package fault simulates an unreliable network with configured rules.
//
// A Rule has an action (drop, delay, duplicate) and optional match fields
// (src, dest, kind, seq, duplicate flag). Unset fields match anything.
// Rules are evaluated in configured order and the first match wins.
//
// The same matcher serves the send path (before transmission) and the
// receive path (after decode, before ordering). Each path owns a Table,
// which the operator can hot-swap, and a FIFO Buffer for delayed messages.
package fault

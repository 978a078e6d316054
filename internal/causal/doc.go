// Package causal implements reliable, causally ordered group multicast.
//
// Each group keeps a vector clock Vi recording, per sender, how long a
// causally consistent prefix this process has delivered, plus a hold-back
// queue of messages whose causal predecessors are still missing. A shared
// DeliveredSet keyed by (multicaster, group, multicast seq) makes delivery
// at-most-once even when the network or fault rules duplicate a message.
//
// Every non-originating recipient forwards a message to the rest of the
// group when it delivers it (reliable multicast); forwarding reuses the
// original timestamp and never consumes a new sequence number.
package causal

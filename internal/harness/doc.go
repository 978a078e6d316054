// Package harness runs multi-node scenarios against real node sessions on
// a deterministic in-memory network.
//
// Each scenario starts one session per configured node, wired to a
// testutil.Scheduler and a recording log collector. Steps run operator
// commands; after every step the network is drained, so a scenario
// produces the same deliveries in the same order on every run.
//
// # Scenario Format
//
//	name: causal_holdback
//	description: "A delayed multicast is held back"
//	logical: false
//	config: |
//	  nodes:
//	    - {name: A, ip: 127.0.0.1, port: 7001, memberOf: [g]}
//	    ...
//	steps:
//	  - node: A
//	    multicast: {group: g, body: m1}
//	  - node: B
//	    request: true
//	  - node: A
//	    send: {dest: B, kind: ping, body: hi, log: true}
//	    expect_error: CLOCK_MODE
//	assertions:
//	  - type: delivered
//	    node: C
//	    labels: [A/g#1, A/g#2]
//
// # Assertion Types
//
//   - delivered: the exact delivery sequence at a node
//   - delivered_order: labels appear at a node in order
//   - delivered_count: a label is delivered exactly N times
//   - mutex_state: final mutual-exclusion state
//   - clock: final main clock
//   - logged: the exact sequence received by the log collector
//
// Delivered messages are identified by labels: "A/g#2" for the second
// multicast A sent to g, "A:ping#1" for ordinary messages, with "+dup"
// appended to duplicates.
//
// # Golden Traces
//
// RunWithGolden renders the trace with Result.Format and compares it to
// testdata/golden/<name>.golden.
package harness

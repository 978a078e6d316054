// Package clock implements logical time for a message-passing node.
//
// Two variants share the Clock capability:
//   - LogicalClock: a Lamport scalar. Tick increments; Merge sets
//     local = max(local, incoming) + 1.
//   - VectorClock: one component per process. Tick increments the owner's
//     component; Merge increments the owner's component and takes the
//     component-wise maximum; Bump increments a single foreign component.
//
// Timestamps are values of a tagged variant (Logical | Vector). Compare
// orders two timestamps of the same kind and fails with ErrKindMismatch
// instead of silently ordering a scalar against a vector.
package clock

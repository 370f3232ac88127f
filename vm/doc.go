// Package vm implements the flowvm flow-graph virtual machine.
//
// This package contains:
//   - Tagged value representation behind shared, aliasable references
//   - Pipeline compiler (topological ordering of node graphs)
//   - Trait/method dispatch table
//   - Resumable, step-wise execution engine
//   - Core native operations
package vm

// Package core holds the shared domain types of sidekick: inbound events,
// released batches, conversation turns and the narrow contracts for the
// external collaborators (the agent-turn runner and the reply sender).
// Higher level packages (ingest, dispatch, heartbeat) depend on core; core
// depends on nothing inside the module, keeping the dependency graph acyclic.
package core

// Package dispatch routes released event batches onto two serial execution
// lanes, one for interactive traffic and one for scheduled self-prompts, so a
// slow heartbeat turn can never block a user reply. Each lane runs exactly one
// turn at a time in arrival order. The dispatcher also owns session lifecycle:
// it records conversation activity and rotates idle sessions into the memory
// store's session-log tier.
package dispatch

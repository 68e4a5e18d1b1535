// Package heartbeat turns markdown schedule documents into recurring
// self-prompts. Two documents define the schedule: a builtin one shipped with
// the deployment and a user one managed at runtime. Each top-level heading is
// a cadence expression and its body the prompt to inject when the cadence is
// due. The documents are re-read on every tick, so external edits take effect
// without a restart.
package heartbeat

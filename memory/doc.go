// Package memory is the durability and structuring layer beneath retrieval.
// It owns the on-disk markdown documents in two tiers: a single curated
// long-term notes file (MEMORY.md) and append-only dated session logs (one
// file per calendar day). Documents are heading-structured text; chunking
// splits them at heading boundaries into the units the search engine indexes.
//
// The package performs no ranking. The search engine observes the store's
// monotonically increasing version counter to decide when its derived index
// has gone stale.
package memory

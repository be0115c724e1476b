package storage

// Package storage is the durable recipient store.
//
// It holds:
//   - Recipient snapshots (inbox scrape, channel member scrape)
//   - The membership verdict cache
//   - The do-not-contact list (operator managed; the engine only reads it)
//   - The append-only outreach log (source of truth for dedup and caps)
//   - Run/collection checkpoints

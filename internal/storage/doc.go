// Package storage is the durable layer under the dispatch core.
//
// It owns:
//   - The run ledger (runs plus their completion stats blob), the single
//     source of truth for "is this run done".
//   - Admin entities: projects, channels, categories, sessions, files,
//     project messages, delay config.
//   - The pending-jobs table backing the queue's at-least-once redelivery
//     across restarts.
//
// Drivers: "sqlite" (default, modernc.org/sqlite) and "memory" (tests,
// throwaway deployments).
package storage

// Package storage persists tasker state across restarts.
//
// It stores two things:
//   - device state: the current value of each text field and switch, keyed by
//     device id ("<schedule>.days", "<schedule>.times", the schedule id for its
//     enable switch, or an output id)
//   - firing history: one record per executed firing, pruned per schedule
//
// Two drivers exist: "file" (JSON snapshot + journal, JSON Lines history) and
// "sqlite" (modernc.org/sqlite, no cgo).
package storage

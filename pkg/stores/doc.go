// Package stores provides persistence for spinup deployments.
//
// StateFile is the checkpoint target of every phase: it writes the whole
// root graph to "<path>.next" and renames it over the state file so that a
// crash never leaves a half-written document behind.
//
// SQLiteStore is an optional journal kept next to the state file. It
// records every run of a verb, the phase events of that run and a copy of
// every checkpoint, which allows an operator to inspect the history of a
// deployment and restore an earlier checkpoint.
package stores

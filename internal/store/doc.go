// Package store owns the live restaurant list: ingest and restore, filter
// projection, annotations, and keyed application of scan outcomes. All
// mutations are serialized behind one mutex and every mutation publishes a
// fully formed UiState.
package store

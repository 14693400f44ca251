// Package relay holds the in-memory state shared between the ingest side and
// the listener side of the tower: the write-once HeaderCache, the drop-oldest
// broadcast Bus, and the Router that feeds both from a page source.
package relay

// Package crawler defines the shared data model and collaborator contracts of the
// catalog crawler: links, the two checkpoint cursors, records, and the fetcher,
// parser, pacing and notification interfaces the stages depend on.
package crawler

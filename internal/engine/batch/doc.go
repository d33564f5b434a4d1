// Package batch splits large row sets into fixed-size batches.
//
// Batches are processed sequentially, in order, and processing stops at the
// first failing batch. The SQLite dataset store uses it to turn a dataset into
// multi-row INSERT statements that stay under the bound-parameter limit.
package batch

// Package cache decides, per dataset, whether the locally stored copy can be
// served or a fresh one must be fetched.
//
// The decision follows the market state:
//   - Market closed: the local copy is served when it is non-empty and its saved
//     date is not older than the most recent trading day. Otherwise it is refetched,
//     so at most one fetch happens per trading day.
//   - Market open: data changes continuously, so every call refetches unless the
//     previous successful fetch happened within the debounce window.
//
// Saved dates live in a persistent key-value store keyed by the dataset location.
// The debounce timestamp is process-local and resets on restart.
//
// A failed or empty fetch never replaces cached data: the caller gets an empty
// dataset and the previous file and saved date stay as they were.
package cache

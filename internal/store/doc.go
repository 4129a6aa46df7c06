// Package store declares the persistence contracts for crawl run bookkeeping.
// Implementations live under internal/storage; this package must not import
// database drivers.
package store

// Package work defines serializable units of work that are shipped to a
// running unit, executed there and answered with a Result.
//
// A unit of work is a plain struct implementing Callable. Both sides
// register it under the same name; Encode and Decode move it through an
// Envelope as JSON, compressed with zstd past 4KiB.
package work

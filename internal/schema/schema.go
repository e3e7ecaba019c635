// Package schema provides the principal schematics for all other packages. It
// defines the records and inventories describing a scanned directory tree and
// provides implementations for handling (Unix-based) operating system
// syscalls. The package serves as a foundational layer for filesystem
// interactions throughout the codebase.
package schema

// Package registry keeps the set of peripherals discovered during the current
// scan session and maps their identifiers to live radio handles.
package registry

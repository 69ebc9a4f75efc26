// Package provider holds the table of OAuth providers mailauth can authorize
// against and maps an email address to the provider that serves it.
//
// A Registry is an ordinary value. Build one with DefaultRegistry or
// NewRegistry and pass it to whatever needs it; there is no package-level
// provider list to mutate.
package provider

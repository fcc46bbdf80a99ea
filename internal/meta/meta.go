// Package meta holds build metadata shared by the CLI commands.
package meta

// Version is the dbguard release version. Overridden at build time via
// -ldflags "-X github.com/dbguard/dbguard/internal/meta.Version=...".
var Version = "0.3.0"

package version

// Version is the gateway release version. Overridden at build time via
// -ldflags "-X kiro2api-go/internal/version.Version=...".
var Version = "1.0.0"

package version

const APP = "videoterror"

// Overridden at build time with -ldflags "-X videoterror/internal/version.VERSION=..."
var (
	VERSION = "0.1.0"
	COMMIT  = "unknown"
)

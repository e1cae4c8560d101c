package version

// Version and Commit are injected at build time with -ldflags -X.
var (
	Version = "dev"
	Commit  = "none"
)

package buildconfig

import (
	"runtime"
	"runtime/debug"
	"sync"
)

// Set with -ldflags "-X github.com/Harshitk-cp/twinledger/internal/buildconfig.version=..."
var (
	version = "dev"
	commit  = "unknown"
)

var readInfo = sync.OnceValues(func() (string, string) {
	v, c := version, commit
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return v, c
	}
	if v == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		v = info.Main.Version
	}
	if c == "unknown" {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				c = s.Value
				if len(c) > 12 {
					c = c[:12]
				}
			}
		}
	}
	return v, c
})

// Version returns the ldflags version, falling back to the module version
// recorded by go install.
func Version() string {
	v, _ := readInfo()
	return v
}

// Commit returns the ldflags commit, falling back to the embedded VCS revision.
func Commit() string {
	_, c := readInfo()
	return c
}

func VersionInfo() map[string]string {
	v, c := readInfo()
	return map[string]string{
		"version":    v,
		"commit":     c,
		"go_version": runtime.Version(),
	}
}

// Package misc provides program identity used in logs, reports and generated file names.
package misc

import (
	"runtime/debug"
	"sync"
)

const appName = "epc"

// Normally set during build with -ldflags="-X epc/misc.version=... -X epc/misc.gitHash=...".
var (
	version string
	gitHash string

	once sync.Once
)

func GetAppName() string {
	return appName
}

func GetVersion() string {
	fromBuildInfo()
	if version == "" {
		return "devel"
	}
	return version
}

func GetGitHash() string {
	fromBuildInfo()
	if gitHash == "" {
		return "unknown"
	}
	return gitHash
}

func fromBuildInfo() {
	once.Do(func() {
		bi, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		if version == "" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			version = bi.Main.Version
		}
		if gitHash == "" {
			for _, s := range bi.Settings {
				if s.Key == "vcs.revision" {
					gitHash = s.Value
					break
				}
			}
		}
	})
}

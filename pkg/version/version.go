// Package version derives the build identity reported in logs, the
// health endpoint, and the CLI user agent.
package version

import "runtime/debug"

// AppName prefixes every version string.
const AppName = "dirigent"

// GitCommit is the short VCS revision stamped into the binary, or "dev"
// when the build carries none (go test, tarball builds).
var GitCommit = revision()

func revision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			if len(s.Value) > 8 {
				return s.Value[:8]
			}
			return s.Value
		}
	}
	return "dev"
}

// Full reports "dirigent/<commit>".
func Full() string {
	return AppName + "/" + GitCommit
}

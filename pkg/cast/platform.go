package cast

import (
	"runtime"
	"strings"

	"github.com/spellrun/spell/pkg/manifest"
)

// NormalizeArch folds the x64 spelling into amd64 so manifests written
// with either name match the same hosts.
func NormalizeArch(arch string) string {
	if strings.EqualFold(arch, "x64") {
		return "amd64"
	}
	return strings.ToLower(arch)
}

// HostPlatform returns the platform the steps will actually run on:
// the local os/arch for host execution, linux/<arch> for docker.
func HostPlatform(execution string) string {
	if execution == manifest.ExecutionDocker {
		return "linux/" + NormalizeArch(runtime.GOARCH)
	}
	return runtime.GOOS + "/" + NormalizeArch(runtime.GOARCH)
}

// PlatformAllowed reports whether host is covered by the declared
// platform list. An empty list allows every platform.
func PlatformAllowed(platforms []string, host string) bool {
	if len(platforms) == 0 {
		return true
	}
	for _, p := range platforms {
		osPart, arch, ok := strings.Cut(p, "/")
		if !ok {
			continue
		}
		if strings.ToLower(osPart)+"/"+NormalizeArch(arch) == host {
			return true
		}
	}
	return false
}

// Package meta holds the build information the linker fills in with -X.
package meta

import (
	"fmt"
	"runtime"
)

// Set with -ldflags "-X github.com/luma/msnp/internal/meta.Version=..."
var (
	Version      string
	Build        string
	Branch       string
	BuildTimeUTC string
	GoTag        string
)

// Info describes how an msnp binary was built.
type Info struct {
	Version   string
	Build     string
	Branch    string
	BuildTime string
	Platform  string
	GoVersion string
	GoTag     string
}

func GetInfo() Info {
	version := Version
	if version == "" {
		version = "dev"
	}

	return Info{
		Version:   version,
		Build:     Build,
		Branch:    Branch,
		BuildTime: BuildTimeUTC,
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		GoVersion: runtime.Version(),
		GoTag:     GoTag,
	}
}

func (i Info) String() string {
	s := "msnp " + i.Version
	if i.Build != "" {
		s += fmt.Sprintf(" (%s@%s)", i.Branch, i.Build)
	}

	if i.BuildTime != "" {
		s += " built " + i.BuildTime
	}

	return s + fmt.Sprintf(" %s %s", i.GoVersion, i.Platform)
}

// ClientName is what we announce to switchboard peers in client caps
// messages.
func ClientName() string {
	return "msnp/" + GetInfo().Version
}

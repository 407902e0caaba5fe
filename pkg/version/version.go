package version

import (
	"fmt"
	"runtime/debug"
	"strings"
)

// Set at build time, e.g.
// -ldflags "-X github.com/lkarlslund/proxydesk/pkg/version.Version=v1.2.0 -X github.com/lkarlslund/proxydesk/pkg/version.Commit=<sha>"
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
	Dirty   = ""
)

type Info struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
	Date    string `json:"date,omitempty"`
	Dirty   bool   `json:"dirty,omitempty"`
}

var readBuildInfo = debug.ReadBuildInfo

func Current() Info {
	info := Info{
		Version: strings.TrimSpace(Version),
		Commit:  strings.TrimSpace(Commit),
		Date:    strings.TrimSpace(Date),
		Dirty:   strings.EqualFold(strings.TrimSpace(Dirty), "true"),
	}
	if info.Version == "" {
		info.Version = "dev"
	}
	if bi, ok := readBuildInfo(); ok {
		info = withVCS(info, bi.Settings)
	}
	return info
}

// withVCS fills fields that ldflags left empty from the embedded vcs.* settings.
func withVCS(info Info, settings []debug.BuildSetting) Info {
	for _, s := range settings {
		v := strings.TrimSpace(s.Value)
		switch s.Key {
		case "vcs.revision":
			if info.Commit == "" {
				info.Commit = v
			}
		case "vcs.time":
			if info.Date == "" {
				info.Date = v
			}
		case "vcs.modified":
			info.Dirty = info.Dirty || strings.EqualFold(v, "true")
		}
	}
	return info
}

func (i Info) String() string {
	parts := []string{i.Version}
	if i.Commit != "" {
		short := i.Commit
		if len(short) > 12 {
			short = short[:12]
		}
		parts = append(parts, short)
	}
	if i.Dirty {
		parts = append(parts, "dirty")
	}
	return strings.Join(parts, "+")
}

func String() string {
	return Current().String()
}

// UserAgent is sent on every backend request.
func UserAgent() string {
	return "proxydesk/" + String()
}

func Detailed(component string) string {
	v := Current()
	if strings.TrimSpace(component) == "" {
		component = "proxydesk"
	}
	out := fmt.Sprintf("%s %s", component, v.String())
	if v.Date != "" {
		out += "\nBuilt: " + v.Date
	}
	return out
}

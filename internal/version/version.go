package version

import (
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

const fallbackModule = "pkt.systems/arangox"

// buildVersion is stamped at link time:
//
//	go build -ldflags "-X pkt.systems/arangox/internal/version.buildVersion=v1.2.3"
var buildVersion = ""

// Info describes the running binary.
type Info struct {
	Module   string    `json:"module"`
	Version  string    `json:"version"`
	Revision string    `json:"revision,omitempty"`
	Time     time.Time `json:"time,omitzero"`
	Modified bool      `json:"modified,omitempty"`
	Go       string    `json:"go"`
}

// String renders "module version".
func (i Info) String() string {
	return i.Module + " " + i.Version
}

// Read collects version details from the link-time stamp and the embedded
// build info. Development builds get a pseudo-version derived from the VCS
// revision, or v0.0.0-unknown without one.
func Read() Info {
	info := Info{Module: fallbackModule, Go: runtime.Version()}
	bi, ok := debug.ReadBuildInfo()
	if ok {
		if p := strings.TrimSpace(bi.Main.Path); p != "" {
			info.Module = p
		}
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				info.Revision = s.Value
			case "vcs.time":
				if ts, err := time.Parse(time.RFC3339, s.Value); err == nil {
					info.Time = ts.UTC()
				}
			case "vcs.modified":
				info.Modified = s.Value == "true"
			}
		}
	}
	switch {
	case strings.TrimSpace(buildVersion) != "":
		info.Version = strings.TrimSpace(buildVersion)
	case ok && bi.Main.Version != "" && bi.Main.Version != "(devel)":
		info.Version = bi.Main.Version
	default:
		info.Version = info.pseudoVersion()
	}
	return info
}

func (i Info) pseudoVersion() string {
	if i.Revision == "" || i.Time.IsZero() {
		return "v0.0.0-unknown"
	}
	rev := i.Revision
	if len(rev) > 12 {
		rev = rev[:12]
	}
	v := "v0.0.0-" + i.Time.Format("20060102150405") + "-" + rev
	if i.Modified {
		v += "+dirty"
	}
	return v
}

// Current returns the version string of the running binary.
func Current() string { return Read().Version }

// Module returns the main module path.
func Module() string { return Read().Module }

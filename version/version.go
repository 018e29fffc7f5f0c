// Package version reports the build version of the rfbkit binaries.
package version

import (
	"runtime/debug"
	"strings"
)

var (
	// Injected with ldflags at build time
	tag    string
	commit string
	date   string
)

const (
	unknownVersion = "v0.0.0"
	develSuffix    = "-devel"
	unknown        = "unknown"
)

// Info is the version of the running binary.
type Info struct {
	Version  string `json:"version"`
	Commit   string `json:"commit"`
	Date     string `json:"date"`
	Modified bool   `json:"modified,omitempty"`
}

// Get assembles Info from ldflags, falling back to the VCS stamp that
// go build records.
func Get() Info {
	var settings map[string]string
	if bi, ok := debug.ReadBuildInfo(); ok {
		settings = make(map[string]string, len(bi.Settings))
		for _, s := range bi.Settings {
			settings[s.Key] = s.Value
		}
	}
	return resolve(tag, commit, date, settings)
}

func resolve(tag, commit, date string, vcs map[string]string) Info {
	info := Info{
		Commit:   firstNonEmpty(commit, vcs["vcs.revision"], unknown),
		Date:     firstNonEmpty(date, vcs["vcs.time"], unknown),
		Modified: vcs["vcs.modified"] == "true",
	}

	switch {
	case tag != "":
		info.Version = ensureVPrefix(tag)
	case vcs["vcs.revision"] != "":
		info.Version = unknownVersion + develSuffix + "+" + short(vcs["vcs.revision"])
		if info.Modified {
			info.Version += "-dirty"
		}
	default:
		info.Version = unknownVersion + develSuffix
	}
	return info
}

// String returns the version followed by the short commit and build date
// when they are known.
func (i Info) String() string {
	parts := []string{i.Version}
	if i.Commit != unknown && i.Commit != "" {
		parts = append(parts, "commit="+short(i.Commit))
	}
	if i.Date != unknown && i.Date != "" {
		parts = append(parts, "date="+i.Date)
	}
	return strings.Join(parts, " ")
}

// Version returns the version string alone.
func Version() string {
	return Get().Version
}

// String is Get().String(), for cobra's Version field.
func String() string {
	return Get().String()
}

func ensureVPrefix(v string) string {
	if !strings.HasPrefix(v, "v") {
		return "v" + v
	}
	return v
}

func short(rev string) string {
	if len(rev) > 7 {
		return rev[:7]
	}
	return rev
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

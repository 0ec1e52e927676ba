// Package buildinfo carries build-time metadata injected through -ldflags.
package buildinfo

import (
	"fmt"
	"runtime/debug"
)

// Context holds the version metadata of the running binary.
type Context struct {
	// Version is the git tag the binary was built from.
	Version string
	// BuildDate is when the binary was built.
	BuildDate string
	// Revision is the VCS revision, read from the module build info when not
	// injected.
	Revision string
}

// New returns a Context, filling Revision from the embedded build info.
func New(version, buildDate string) *Context {
	c := &Context{Version: version, BuildDate: buildDate}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" {
				c.Revision = s.Value
			}
		}
	}
	return c
}

// GetVersion returns the version or "unknown".
func (c *Context) GetVersion() string {
	if c == nil || c.Version == "" {
		return "unknown"
	}
	return c.Version
}

// GetBuildDate returns the build date or "unknown".
func (c *Context) GetBuildDate() string {
	if c == nil || c.BuildDate == "" {
		return "unknown"
	}
	return c.BuildDate
}

func (c *Context) String() string {
	s := fmt.Sprintf("%s (built %s)", c.GetVersion(), c.GetBuildDate())
	if c != nil && c.Revision != "" {
		rev := c.Revision
		if len(rev) > 12 {
			rev = rev[:12]
		}
		s += " rev " + rev
	}
	return s
}

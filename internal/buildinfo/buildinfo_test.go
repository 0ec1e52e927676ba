package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextFallbacks(t *testing.T) {
	var nilCtx *Context
	assert.Equal(t, "unknown", nilCtx.GetVersion())
	assert.Equal(t, "unknown", nilCtx.GetBuildDate())
	assert.Equal(t, "unknown (built unknown)", nilCtx.String())

	c := &Context{Version: "v0.3.0", BuildDate: "2026-10-01"}
	assert.Equal(t, "v0.3.0 (built 2026-10-01)", c.String())

	c.Revision = "0123456789abcdef"
	assert.Equal(t, "v0.3.0 (built 2026-10-01) rev 0123456789ab", c.String())
}

func TestNewKeepsInjectedValues(t *testing.T) {
	c := New("v1.0.0", "")
	assert.Equal(t, "v1.0.0", c.GetVersion())
	assert.Equal(t, "unknown", c.GetBuildDate())
}

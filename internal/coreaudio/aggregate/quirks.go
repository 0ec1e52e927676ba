package aggregate

import (
	"strings"

	"github.com/tphakala/go-cubeb/internal/conf"
	"github.com/tphakala/go-cubeb/internal/coreaudio/hal"
)

// Action is a quirk fix applied to a freshly built aggregate device.
type Action string

// ActionForceInputRate sets the aggregate nominal rate to the input device's
// nominal rate. Some wireless headsets negotiate a different rate per
// direction and glitch unless the aggregate follows the microphone.
const ActionForceInputRate Action = conf.QuirkForceInputRate

// Quirk matches an input/output device name pair. An empty pattern matches
// any name.
type Quirk struct {
	Name   string
	Input  string
	Output string
	Action Action
}

// Matches reports whether the quirk applies to the given device names.
func (q Quirk) Matches(inputName, outputName string) bool {
	return strings.Contains(inputName, q.Input) && strings.Contains(outputName, q.Output)
}

// QuirkTable is an ordered list of quirks.
type QuirkTable struct {
	quirks []Quirk
}

// NewQuirkTable builds a table from configuration entries.
func NewQuirkTable(entries []conf.QuirkSettings) *QuirkTable {
	t := &QuirkTable{quirks: make([]Quirk, 0, len(entries))}
	for _, e := range entries {
		t.quirks = append(t.quirks, Quirk{Name: e.Name, Input: e.Input, Output: e.Output, Action: Action(e.Action)})
	}
	return t
}

// DefaultQuirks returns the built-in table.
func DefaultQuirks() *QuirkTable {
	return NewQuirkTable(conf.DefaultQuirks())
}

// Match returns every quirk that applies to the device names, in table order.
func (t *QuirkTable) Match(inputName, outputName string) []Quirk {
	if t == nil {
		return nil
	}
	var matched []Quirk
	for _, q := range t.quirks {
		if q.Matches(inputName, outputName) {
			matched = append(matched, q)
		}
	}
	return matched
}

// Len returns the number of quirks.
func (t *QuirkTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.quirks)
}

// applyQuirks runs the fixes matching the input and output device names.
func (d *Device) applyQuirks(input, output hal.ObjectID) error {
	inputName, err := d.hw.DeviceName(input)
	if err != nil {
		return nil
	}
	outputName, err := d.hw.DeviceName(output)
	if err != nil {
		return nil
	}
	for _, q := range d.opts.Quirks.Match(inputName, outputName) {
		switch q.Action {
		case ActionForceInputRate:
			rate, err := d.hw.NominalSampleRate(input)
			if err != nil {
				return d.fail("read input sample rate", err)
			}
			if err := d.hw.SetNominalSampleRate(d.id, rate); err != nil {
				return d.fail("force input sample rate", err)
			}
			d.logger.Info("quirk applied",
				"quirk", q.Name,
				"input", inputName,
				"output", outputName,
				"rate", rate)
		default:
			d.logger.Warn("unknown quirk action", "quirk", q.Name, "action", string(q.Action))
		}
	}
	return nil
}

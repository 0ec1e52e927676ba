// quirks.go: standalone device quirk table files
package conf

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// quirkFile is the on-disk layout of a quirk table.
type quirkFile struct {
	Quirks []QuirkSettings `yaml:"quirks"`
}

// LoadQuirks reads a YAML quirk table such as:
//
//	quirks:
//	  - name: airpods
//	    input: AirPods
//	    output: AirPods
//	    action: force-input-rate
func LoadQuirks(path string) ([]QuirkSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading quirk file %s: %w", path, err)
	}

	var file quirkFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("error parsing quirk file %s: %w", path, err)
	}

	for i, q := range file.Quirks {
		if err := validateQuirk(q); err != nil {
			return nil, fmt.Errorf("quirk %d in %s: %w", i, path, err)
		}
	}
	return file.Quirks, nil
}

// SaveQuirks writes a quirk table in the format read by LoadQuirks.
func SaveQuirks(path string, quirks []QuirkSettings) error {
	data, err := yaml.Marshal(quirkFile{Quirks: quirks})
	if err != nil {
		return fmt.Errorf("error encoding quirks: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("error writing quirk file %s: %w", path, err)
	}
	return nil
}

func validateQuirk(q QuirkSettings) error {
	if q.Input == "" && q.Output == "" {
		return fmt.Errorf("quirk %q matches every device, set input or output", q.Name)
	}
	switch q.Action {
	case QuirkForceInputRate:
		return nil
	case "":
		return fmt.Errorf("quirk %q has no action", q.Name)
	default:
		return fmt.Errorf("quirk %q has unknown action %q", q.Name, q.Action)
	}
}

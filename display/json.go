// Package display holds shared CLI output helpers: the --json escape hatch
// for scripting against commands whose default output is human tables.
package display

import (
	"encoding/json"
	"fmt"
)

// MarshalJSON marshals v indented for terminal consumption.
func MarshalJSON(v interface{}) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

// OutputJSON marshals and prints v to stdout.
func OutputJSON(v interface{}) error {
	data, err := MarshalJSON(v)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

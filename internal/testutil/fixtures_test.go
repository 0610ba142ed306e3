package testutil

import (
	"encoding/json"
	"testing"
)

func TestJSONFixturesAreValid(t *testing.T) {
	fixtures := map[string]string{
		"HealthyJSON":          HealthyJSON,
		"GameWindowsJSON":      GameWindowsJSON,
		"StatusTrueJSON":       StatusTrueJSON,
		"StatusFalseJSON":      StatusFalseJSON,
		"SampleStateJSON":      SampleStateJSON,
		"EmptyStateJSON":       EmptyStateJSON,
		"SampleJSONLogPayload": SampleJSONLogPayload,
	}
	for name, data := range fixtures {
		t.Run(name, func(t *testing.T) {
			if !json.Valid([]byte(data)) {
				t.Errorf("%s is not valid JSON", name)
			}
		})
	}
}

func TestPythonPayloadsAreNotJSON(t *testing.T) {
	for _, p := range []string{SampleLogPayload, SampleVehiclePayload, SampleUnknownPayload} {
		if json.Valid([]byte(p)) {
			t.Errorf("expected Python literal, got valid JSON: %s", p)
		}
	}
}

package config

import "encoding/json"

// yamlMapToJSON re-encodes a YAML-decoded mapping as the JSON blob the
// sensor/controller driver registries expect for their opaque Config
// field. yaml.v3 decodes mappings into map[string]any already, so this is
// a straight re-marshal, not a structural conversion.
func yamlMapToJSON(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

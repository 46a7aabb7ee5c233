// Package drivers is the compiled-in registry of concrete sensor drivers
// (spec §4.D): DS18B20, SHT41, and the four CS1237-backed variants.
// Importing this package for side effects registers every driver tag.
package drivers

import (
	"encoding/json"
	"fmt"

	"github.com/greenhaven/hydro-controller/internal/herr"
)

func decodeConfig(data []byte, out any) error {
	if len(data) == 0 {
		return herr.Wrap("configuration", fmt.Errorf("drivers: empty config"))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return herr.Wrap("configuration", fmt.Errorf("drivers: decode config: %w", err))
	}
	return nil
}

package encoding

import (
	"encoding/json"

	"github.com/plexcache-r/plexcache/pkg/logging"
)

// LoadAndUnmarshalJSON loads data from the specified path and decodes it into
// the specified structure. Used for every tracker state file and the
// activity log, which are plain JSON documents rather than user-facing
// configuration.
func LoadAndUnmarshalJSON(path string, value interface{}) error {
	return LoadAndUnmarshal(path, func(data []byte) error {
		return json.Unmarshal(data, value)
	})
}

// MarshalAndSaveJSON marshals value as indented JSON and atomically saves it
// to path.
func MarshalAndSaveJSON(path string, logger *logging.Logger, value interface{}) error {
	return MarshalAndSave(path, logger, func() ([]byte, error) {
		return json.MarshalIndent(value, "", "  ")
	})
}

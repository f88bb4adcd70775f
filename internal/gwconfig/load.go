package gwconfig

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// Load reads, schema-validates, and semantically validates the config file
// at path, returning an immutable Config. Any failure here is fatal: the
// gateway must not start with an invalid configuration.
func Load(log *logrus.Entry, path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read config file %q: %w", path, err)
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("config file %q is not valid JSON: %w", path, err)
	}
	if err := validateSchema(generic); err != nil {
		return nil, err
	}

	doc, err := unmarshalDocument(raw)
	if err != nil {
		return nil, fmt.Errorf("unable to decode config file %q: %w", path, err)
	}

	return build(log, doc)
}

package gwconfig

import (
	"bytes"
	"encoding/json"
)

// jsonUnmarshalStrict decodes raw into v, rejecting unknown fields so that a
// typo'd runner tunable fails config loading loudly instead of silently
// doing nothing.
func jsonUnmarshalStrict(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

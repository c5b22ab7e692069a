package gateway

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/kevingbb/processorders/errors"
)

// eventSchema is the minimum shape of a single Event Grid event.
const eventSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["eventType"],
  "properties": {
    "id": {"type": "string"},
    "eventType": {"type": "string", "minLength": 1},
    "subject": {"type": "string"},
    "data": {"type": "object"}
  }
}`

var compiledEventSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(eventSchema))
})

// ValidateEvent checks one raw event against the event schema.
func ValidateEvent(raw []byte) error {
	schema, err := compiledEventSchema()
	if err != nil {
		return errors.WrapFatal(err, "gateway", "ValidateEvent", "compile event schema")
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return errors.WrapInvalid(err, "gateway", "ValidateEvent", "event is not valid JSON")
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return errors.WrapInvalid(errors.ErrInvalidData, "gateway", "ValidateEvent",
		fmt.Sprintf("event schema violation: %s", strings.Join(msgs, "; ")))
}

package client

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// resultEnvelopeSchema pins down the minimum shape a result payload
// must have before it is decoded into a WorkflowResult. Anything that
// fails here becomes a decode error with the response status preserved.
const resultEnvelopeSchema = `{
	"type": "object",
	"required": ["run_id", "provider_used", "success"],
	"properties": {
		"run_id": {"type": "string", "minLength": 1},
		"provider_used": {"type": "string"},
		"model_used": {"type": "string"},
		"success": {"type": "boolean"},
		"total_latency_ms": {"type": "integer", "minimum": 0},
		"total_cost_usd": {"type": "number", "minimum": 0},
		"value_proposition": {"type": ["object", "null"]},
		"normalized_input": {"type": ["object", "null"]},
		"extracted_data": {"type": ["object", "null"]},
		"self_check": {"type": ["object", "null"]},
		"error": {"type": ["string", "null"]}
	}
}`

var envelopeSchema = gojsonschema.NewStringLoader(resultEnvelopeSchema)

func validateResultEnvelope(body []byte) error {
	result, err := gojsonschema.Validate(envelopeSchema, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("envelope validation: %w", err)
	}
	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, e := range result.Errors() {
			errs[i] = e.String()
		}
		return fmt.Errorf("envelope validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

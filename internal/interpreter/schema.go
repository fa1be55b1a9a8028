package interpreter

import "github.com/santhosh-tekuri/jsonschema/v5"

// outputSchema is the contract the model must satisfy. Anything that fails
// validation is treated as a malformed interpretation, never silently fixed.
const outputSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["signal"],
  "properties": {
    "signal": {"type": "boolean"},
    "symbol": {"type": "string", "minLength": 1},
    "side": {"type": "string", "enum": ["buy", "sell", "exit", "modify", "cancel"]},
    "order_kind": {"type": "string", "enum": ["market", "limit", "stop", "stop_limit"]},
    "instrument": {"type": "string", "enum": ["equity", "futures", "options"]},
    "quantity": {"type": "number", "minimum": 0},
    "price": {"type": "number", "minimum": 0},
    "trigger": {"type": "number", "minimum": 0},
    "target": {"type": "number", "minimum": 0},
    "stop_loss": {"type": "number", "minimum": 0},
    "ref_order_id": {"type": "string"},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "option": {
      "type": "object",
      "required": ["strike_price", "option_type"],
      "properties": {
        "strike_price": {"type": "number", "exclusiveMinimum": 0},
        "expiry": {"type": "string"},
        "option_type": {"type": "string", "enum": ["CE", "PE", "ce", "pe"]}
      }
    }
  },
  "if": {"properties": {"signal": {"const": true}}},
  "then": {"required": ["signal", "symbol", "side", "confidence"]}
}`

func compileSchema() (*jsonschema.Schema, error) {
	return jsonschema.CompileString("intent_output.json", outputSchema)
}

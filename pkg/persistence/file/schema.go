package file

// stateSchema validates the persisted run document. A document that parses
// as JSON but fails this schema is treated the same as an unreadable one:
// corrupt, and subject to snapshot recovery.
const stateSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["id", "mode", "current_stage", "stage_history", "context", "created_at", "updated_at"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "mode": {"type": "string", "enum": ["interactive", "autonomous"]},
    "current_stage": {"type": "string", "minLength": 1},
    "stage_history": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["stage", "entered_at", "outcome"],
        "properties": {
          "stage": {"type": "string"},
          "entered_at": {"type": "string"},
          "exited_at": {"type": "string"},
          "outcome": {
            "type": "string",
            "enum": ["in_progress", "advanced", "converged_partial", "escalated", "abandoned"]
          },
          "iterations": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["index", "score"],
              "properties": {
                "index": {"type": "integer", "minimum": 1},
                "score": {"type": "number", "minimum": 0, "maximum": 1}
              }
            }
          }
        }
      }
    },
    "context": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["value", "stage", "written_at"],
        "properties": {
          "value": {"type": "string"},
          "stage": {"type": "string"},
          "tombstoned": {"type": "boolean"}
        }
      }
    }
  }
}`

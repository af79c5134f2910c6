package ai

import "encoding/json"

// Strict schemas handed to the model verbatim and used to validate its
// replies. Additional properties are rejected so drift shows up immediately.

var topicsSchema = json.RawMessage(`{
	"type": "object",
	"required": ["topics"],
	"additionalProperties": false,
	"properties": {
		"topics": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["topic", "metatopic", "importance", "summary", "message_ids"],
				"additionalProperties": false,
				"properties": {
					"topic": {"type": "string", "minLength": 1},
					"metatopic": {"type": "string", "minLength": 1},
					"importance": {"type": "integer", "minimum": 1, "maximum": 10},
					"summary": {"type": "string", "minLength": 1},
					"message_ids": {"type": "array", "items": {"type": "integer"}}
				}
			}
		}
	}
}`)

var clustersSchema = json.RawMessage(`{
	"type": "object",
	"required": ["topics"],
	"additionalProperties": false,
	"properties": {
		"topics": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["topic", "language", "channels"],
				"additionalProperties": false,
				"properties": {
					"topic": {"type": "string", "minLength": 1},
					"language": {"type": "string", "minLength": 2, "maxLength": 2},
					"channels": {
						"type": "array",
						"minItems": 1,
						"items": {
							"type": "object",
							"required": ["id"],
							"properties": {
								"id": {"type": "string"},
								"name": {"type": "string"},
								"url": {"type": "string"},
								"last_message_date": {"type": "string"},
								"left": {"type": "boolean"}
							}
						}
					}
				}
			}
		}
	}
}`)

var insightSchema = json.RawMessage(`{
	"type": "object",
	"required": ["analysis_summary", "stance"],
	"additionalProperties": false,
	"properties": {
		"analysis_summary": {"type": "string", "minLength": 1},
		"stance": {
			"type": "string",
			"enum": ["long", "short", "long-neutral", "short-neutral", "neutral", "no-actionable-insight"]
		},
		"rationale_long": {"type": ["string", "null"]},
		"rationale_short": {"type": ["string", "null"]},
		"rationale_neutral": {"type": ["string", "null"]},
		"risks_and_watchouts": {"type": ["array", "null"], "items": {"type": "string"}},
		"key_questions_for_user": {"type": ["array", "null"], "items": {"type": "string"}},
		"suggested_instruments_long": {"type": ["array", "null"], "items": {"type": "string"}},
		"suggested_instruments_short": {"type": ["array", "null"], "items": {"type": "string"}},
		"useful_resources": {
			"type": ["array", "null"],
			"items": {
				"type": "object",
				"required": ["url", "description"],
				"properties": {
					"url": {"type": "string"},
					"description": {"type": "string"}
				}
			}
		}
	}
}`)

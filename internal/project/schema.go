package project

// schemaJSON is the JSON-schema shape of a project descriptor, as spec.md
// §6 defines it. It is intentionally permissive about "widget" (an opaque
// string hint for the external visualization collaborator) and requires
// only what the core needs to build a skeleton and validate it.
const schemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "project-descriptor",
  "type": "object",
  "required": ["title", "frameDetection", "payloadEncoding", "groups"],
  "properties": {
    "title": { "type": "string", "minLength": 1 },
    "decoder": {
      "type": ["object", "null"],
      "required": ["language", "source"],
      "properties": {
        "language": { "type": "string", "enum": ["js"] },
        "source": { "type": "string" }
      }
    },
    "frameStart": { "type": "string" },
    "frameEnd": { "type": "string" },
    "frameDetection": {
      "type": "string",
      "enum": ["EndDelimiter", "StartAndEndDelimiter", "StartOnly", "NoDelimiters"]
    },
    "checksum": { "type": "string" },
    "payloadEncoding": {
      "type": "string",
      "enum": ["PlainText", "Hexadecimal", "Base64", "Binary"]
    },
    "groups": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["title", "datasets"],
        "properties": {
          "title": { "type": "string" },
          "widget": { "type": "string" },
          "datasets": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["title", "index"],
              "properties": {
                "title": { "type": "string" },
                "units": { "type": "string" },
                "widget": { "type": "string" },
                "index": { "type": "integer", "minimum": 1 },
                "alarmLow": { "type": "number" },
                "alarmHigh": { "type": "number" },
                "fft": { "type": "boolean" },
                "log": { "type": "boolean" },
                "graph": { "type": "boolean" },
                "historyDepth": { "type": "integer", "minimum": 0 },
                "min": { "type": "number" },
                "max": { "type": "number" }
              }
            }
          }
        }
      }
    }
  }
}`

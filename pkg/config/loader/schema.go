package loader

// fleetSchema is matched against the JSON form of confapi.Fleet after defaults are applied
const fleetSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["domain", "probeSubdomain", "network", "strategy", "manifest", "branches"],
  "properties": {
    "domain": {
      "type": "string",
      "pattern": "^[a-z0-9]([a-z0-9-]*[a-z0-9])?(\\.[a-z0-9]([a-z0-9-]*[a-z0-9])?)*$"
    },
    "probeSubdomain": {"type": "string", "minLength": 1},
    "network": {"type": "string", "pattern": "^[a-zA-Z0-9][a-zA-Z0-9_.-]*$"},
    "strategy": {"enum": ["static", "labels"]},
    "manifest": {"type": "string", "minLength": 1},
    "branches": {
      "type": "array",
      "minItems": 1,
      "items": {"type": "string", "minLength": 1}
    },
    "publicIPURL": {"type": "string", "pattern": "^https?://"},
    "proxy": {
      "type": "object",
      "properties": {
        "container": {"type": "string", "minLength": 1},
        "image": {"type": "string", "minLength": 1},
        "labelsImage": {"type": "string", "minLength": 1},
        "passthroughPort": {"type": "integer", "minimum": 1, "maximum": 65535}
      }
    },
    "services": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "required": ["name", "source"],
        "properties": {
          "name": {"type": "string", "minLength": 1, "maxLength": 63},
          "source": {"type": "string", "minLength": 1},
          "port": {"type": "integer", "minimum": 0, "maximum": 65535},
          "containerHint": {"type": "string"},
          "branches": {
            "type": ["array", "null"],
            "items": {"type": "string", "minLength": 1}
          },
          "manifest": {"type": "string"}
        }
      }
    }
  }
}`

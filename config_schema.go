package nervis

// modelSchema validates one entry of the models list.
const modelSchema = `{
	"type": "object",
	"required": ["url"],
	"properties": {
		"url": {"type": "string", "minLength": 1},
		"button_name": {"type": "string"},
		"kind": {"enum": ["", "http", "openai", "bedrock"]},
		"model": {"type": "string"},
		"api_key": {"type": "string"},
		"region": {"type": "string"},
		"timeout": {"type": "string"},
		"oauth2": {
			"type": "object",
			"required": ["token_url", "client_id"],
			"properties": {
				"token_url": {"type": "string", "minLength": 1},
				"client_id": {"type": "string", "minLength": 1},
				"client_secret": {"type": "string"},
				"scopes": {"type": "array", "items": {"type": "string"}}
			}
		},
		"circuit_breaker": {
			"type": "object",
			"properties": {
				"failure_threshold": {"type": "integer", "minimum": 0},
				"success_threshold": {"type": "integer", "minimum": 0},
				"timeout": {"type": "string"}
			}
		}
	}
}`

// modelsSchema validates a saved model list.
const modelsSchema = `{
	"type": "array",
	"items": ` + modelSchema + `
}`

// configSchema validates a whole configuration document.
const configSchema = `{
	"type": "object",
	"properties": {
		"server": {
			"type": "object",
			"properties": {
				"listen": {"type": "string"},
				"cors_origins": {"type": "array", "items": {"type": "string"}},
				"admin_token": {"type": "string"},
				"rate_limit": {
					"type": "object",
					"required": ["requests_per_second"],
					"properties": {
						"requests_per_second": {"type": "number", "exclusiveMinimum": 0},
						"burst": {"type": "number", "minimum": 0}
					}
				}
			}
		},
		"cache": {
			"type": "object",
			"properties": {
				"capacity_per_model": {"type": "integer", "minimum": 1},
				"request_timeout": {"type": "string"}
			}
		},
		"models": ` + modelsSchema + `,
		"storage": {
			"type": "object",
			"properties": {
				"driver": {"enum": ["", "sqlite", "postgres"]},
				"dsn": {"type": "string"},
				"request_log": {"type": "boolean"},
				"models_file": {"type": "string"}
			}
		},
		"logging": {
			"type": "object",
			"properties": {
				"level": {"enum": ["", "debug", "info", "warn", "error"]},
				"format": {"enum": ["", "json", "text"]}
			}
		},
		"plugins": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["name"],
				"properties": {
					"name": {"type": "string", "minLength": 1},
					"stage": {"enum": ["", "before_request", "after_request", "on_error"]},
					"enabled": {"type": "boolean"},
					"config": {"type": "object"}
				}
			}
		}
	}
}`

package config

import _ "embed"

//go:embed schema.json
var schemaJSON string

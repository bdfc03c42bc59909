package config

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// Schema returns JSON Schemas for the app and models files, keyed by file
// kind. Editors that understand JSON Schema can validate the YAML with them.
func Schema() ([]byte, error) {
	r := &jsonschema.Reflector{
		// The YAML decoder accepts partial files; defaults fill the rest.
		RequiredFromJSONSchemaTags: true,
		DoNotReference:             true,
	}
	app := r.Reflect(&App{})
	app.Title = "go-chat application config"
	models := r.Reflect(&Models{})
	models.Title = "go-chat models config"

	return json.MarshalIndent(map[string]*jsonschema.Schema{
		"app":    app,
		"models": models,
	}, "", "  ")
}

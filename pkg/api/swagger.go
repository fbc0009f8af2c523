// Package api holds shared request/response types and helpers for the
// edge HTTP surface, including the embedded OpenAPI document for this
// module's own memory/learning/analytics routes (not the teacher's).
package api

import (
	_ "embed"
	"encoding/json"
	"net/http"

	"gopkg.in/yaml.v3"
)

//go:embed swagger.yaml
var swaggerSpec []byte

// SwaggerSpec returns the embedded OpenAPI document as raw YAML bytes.
func SwaggerSpec() []byte {
	return swaggerSpec
}

// SwaggerSpecJSON converts the embedded YAML document to JSON on demand;
// the document is small enough that caching the conversion isn't worth
// the complexity.
func SwaggerSpecJSON() ([]byte, error) {
	var doc interface{}
	if err := yaml.Unmarshal(swaggerSpec, &doc); err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

// SwaggerHandler serves the OpenAPI document as YAML by default, or
// JSON when the caller sends Accept: application/json.
func SwaggerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") == "application/json" {
			body, err := SwaggerSpecJSON()
			if err != nil {
				http.Error(w, "converting swagger spec to json", http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write(body)
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.Write(swaggerSpec)
	}
}

// SwaggerUIHandler serves a minimal Swagger UI page pointed at
// SwaggerHandler, so the routes in swagger.yaml are browsable without
// a separate docs deployment.
func SwaggerUIHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(swaggerUIPage))
	}
}

const swaggerUIPage = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>memcore API reference</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5.9.0/swagger-ui.css">
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5.9.0/swagger-ui-bundle.js"></script>
  <script>
    window.onload = function() {
      window.ui = SwaggerUIBundle({
        url: "/api/swagger",
        dom_id: "#swagger-ui",
        deepLinking: true,
        presets: [SwaggerUIBundle.presets.apis],
      });
    };
  </script>
</body>
</html>`

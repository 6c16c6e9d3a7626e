package api

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"html/template"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/gaspardpetit/promptrelay/internal/logx"
)

//go:embed openapi.yaml
var openapiYAML []byte

// LoadOpenAPI parses the embedded OpenAPI document.
func LoadOpenAPI() (*openapi3.T, error) {
	return openapi3.NewLoader().LoadFromData(openapiYAML)
}

var docsPage = template.Must(template.New("docs").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}} {{.Version}}</title>
<link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
<div id="swagger-ui"></div>
<script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
<script>SwaggerUIBundle({url: {{.DocURL}}, dom_id: '#swagger-ui'});</script>
</body>
</html>
`))

// APIDocs serves the validated OpenAPI document and a browser page for it.
type APIDocs struct {
	doc  []byte
	page []byte
}

// NewAPIDocs loads and validates the embedded document. docURL is where the
// page fetches the JSON document from, relative to the page.
func NewAPIDocs(docURL string) (*APIDocs, error) {
	spec, err := LoadOpenAPI()
	if err != nil {
		return nil, fmt.Errorf("load openapi: %w", err)
	}
	if err := spec.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("validate openapi: %w", err)
	}
	doc, err := spec.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode openapi: %w", err)
	}
	var page bytes.Buffer
	err = docsPage.Execute(&page, struct{ Title, Version, DocURL string }{spec.Info.Title, spec.Info.Version, docURL})
	if err != nil {
		return nil, fmt.Errorf("render docs page: %w", err)
	}
	return &APIDocs{doc: doc, page: page.Bytes()}, nil
}

// DocumentHandler serves the OpenAPI document as JSON.
func (d *APIDocs) DocumentHandler() http.HandlerFunc {
	return d.serve("application/json", d.doc)
}

// PageHandler serves the Swagger UI page.
func (d *APIDocs) PageHandler() http.HandlerFunc {
	return d.serve("text/html; charset=utf-8", d.page)
}

func (d *APIDocs) serve(contentType string, body []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		if _, err := w.Write(body); err != nil {
			logx.Log.Debug().Err(err).Str("path", r.URL.Path).Msg("write docs")
		}
	}
}

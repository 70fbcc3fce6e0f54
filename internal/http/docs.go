package http

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"gopkg.in/yaml.v3"
)

//go:embed docs/openapi.yaml
var openAPIYAML []byte

type apiDocs struct {
	yaml []byte
	json []byte
}

func loadAPIDocs() (*apiDocs, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(openAPIYAML, &doc); err != nil {
		return nil, fmt.Errorf("parse openapi document: %w", err)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode openapi document: %w", err)
	}
	return &apiDocs{yaml: openAPIYAML, json: data}, nil
}

func (h *Handler) docsYAML(c *gin.Context) {
	c.Data(http.StatusOK, "application/yaml; charset=utf-8", h.docs.yaml)
}

func (h *Handler) docsJSON(c *gin.Context) {
	c.Data(http.StatusOK, "application/json; charset=utf-8", h.docs.json)
}

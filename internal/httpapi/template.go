package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/scitix/netpulse/internal/apierrors"
	"github.com/scitix/netpulse/internal/logging"
	"github.com/scitix/netpulse/internal/parse"
	"github.com/scitix/netpulse/internal/render"
)

// TemplateHandler implements spec.md §6's /template/render and
// /template/parse endpoints, letting callers exercise a renderer/parser
// outside of the execute pipeline (useful for authoring templates).
type TemplateHandler struct {
	renderers *render.Registry
	parsers   *parse.Registry
	log       *logging.Logger
}

func NewTemplateHandler(renderers *render.Registry, parsers *parse.Registry, log *logging.Logger) *TemplateHandler {
	return &TemplateHandler{renderers: renderers, parsers: parsers, log: log.With("component", "TemplateHandler")}
}

type templateRenderRequest struct {
	Name     string                 `json:"name,omitempty"`
	Template string                 `json:"template"`
	Context  map[string]interface{} `json:"context,omitempty"`
}

// Render handles POST /template/render[/{name}]: the path param, when
// present, overrides the body's name field.
func (h *TemplateHandler) Render(c *gin.Context) {
	var req templateRenderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.Validation(err.Error()))
		return
	}
	name := c.Param("name")
	if name == "" {
		name = req.Name
	}
	renderer, ok := h.renderers.Get(name)
	if !ok {
		respondError(c, apierrors.NotFound("unknown renderer: "+name))
		return
	}
	out, err := renderer.Render(req.Template, req.Context)
	if err != nil {
		respondError(c, apierrors.Wrap(apierrors.KindValidation, "rendering failed", err))
		return
	}
	respondOK(c, http.StatusOK, out)
}

type templateParseRequest struct {
	Name     string `json:"name,omitempty"`
	Template string `json:"template"`
	Output   string `json:"output"`
}

// Parse handles POST /template/parse[/{name}].
func (h *TemplateHandler) Parse(c *gin.Context) {
	var req templateParseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.Validation(err.Error()))
		return
	}
	name := c.Param("name")
	if name == "" {
		name = req.Name
	}
	parser, ok := h.parsers.Get(name)
	if !ok {
		respondError(c, apierrors.NotFound("unknown parser: "+name))
		return
	}
	out, err := parser.Parse(req.Template, req.Output)
	if err != nil {
		respondError(c, apierrors.Wrap(apierrors.KindValidation, "parsing failed", err))
		return
	}
	respondOK(c, http.StatusOK, out)
}

package handlers

import (
	"net/http"

	"github.com/steveyiyo/voicebridge/internal/persona"
	"github.com/steveyiyo/voicebridge/pkg/types"

	"github.com/gin-gonic/gin"
)

type CatalogHandler struct{}

func NewCatalogHandler() *CatalogHandler { return &CatalogHandler{} }

func (h *CatalogHandler) Personas(c *gin.Context) {
	all := persona.All()
	out := make([]types.PersonaResp, 0, len(all))
	for _, p := range all {
		out = append(out, types.PersonaResp{
			ID:           p.ID,
			Name:         p.Name,
			Gender:       string(p.Gender),
			DefaultVoice: p.DefaultVoice,
		})
	}
	c.JSON(http.StatusOK, gin.H{"default": persona.DefaultID, "personas": out})
}

func (h *CatalogHandler) Voices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"default": types.DefaultVoice, "voices": types.Voices()})
}

func (h *CatalogHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

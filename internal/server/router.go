package server

import (
	"github.com/gin-gonic/gin"
	"github.com/scrtlabs/attest-hub/internal/hub"
	"github.com/scrtlabs/attest-hub/internal/server/handler"
)

// NewRouter creates and configures the Gin router with all routes.
func NewRouter(h *hub.Hub, cfg *Config) *gin.Engine {
	r := gin.Default()

	if len(cfg.CORSOrigins) > 0 {
		r.Use(CORS(cfg.CORSOrigins))
	}
	r.Use(RequestDeadline(cfg.RequestTimeout))

	r.GET("/", func(c *gin.Context) {
		c.String(200, "ok")
	})

	r.GET("/health", handler.HandleHealth(h))

	r.GET("/attestation/dual", handler.HandleDualAttestation(h))
	r.GET("/attestation/all", handler.HandleAllAttestations(h))
	r.POST("/attestation/batch", handler.HandleBatchAttestations(h))
	r.GET("/attestation/:vm_name", handler.HandleVMAttestation(h))

	r.GET("/vms", handler.HandleListVMs(h))
	r.GET("/vms/:vm_name/probe", handler.HandleProbeVM(h))

	// Config writes are admin-only when a token is configured.
	configHandlers := []gin.HandlerFunc{}
	if cfg.AdminToken != "" {
		configHandlers = append(configHandlers, AdminAuth(cfg.AdminToken))
	}
	configHandlers = append(configHandlers, handler.HandleSetVMConfig(h))
	r.POST("/vms/:vm_name/config", configHandlers...)

	return r
}

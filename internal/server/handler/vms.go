package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/scrtlabs/attest-hub/internal/attest"
	"github.com/scrtlabs/attest-hub/internal/hub"
	"github.com/scrtlabs/attest-hub/internal/logx"
)

// VMInfo is the wire form of one VM's configuration plus tracked status.
type VMInfo struct {
	Name                      string `json:"name"`
	Endpoint                  string `json:"endpoint"`
	Type                      string `json:"type"`
	ParsingStrategy           string `json:"parsing_strategy"`
	Status                    string `json:"status"`
	LastSuccessfulAttestation string `json:"last_successful_attestation,omitempty"`
	ErrorCount                int    `json:"error_count"`
}

// HandleListVMs handles GET /vms.
func HandleListVMs(h *hub.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		configs, err := h.VMs().Configs()
		if err != nil {
			logx.Errorf("list vms: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		statuses := h.VMs().Statuses()

		vms := make(map[string]VMInfo, len(configs))
		for name, cfg := range configs {
			info := VMInfo{
				Name:            name,
				Endpoint:        cfg.Endpoint,
				Type:            cfg.Type,
				ParsingStrategy: cfg.ParsingStrategy,
				Status:          string(attest.StatusUnknown),
			}
			if st, ok := statuses[name]; ok {
				info.Status = string(st.Status)
				info.ErrorCount = st.ErrorCount
				if st.LastSuccessfulAttestation != nil {
					info.LastSuccessfulAttestation = st.LastSuccessfulAttestation.Format(time.RFC3339)
				}
			}
			vms[name] = info
		}

		c.JSON(http.StatusOK, gin.H{
			"vms":   vms,
			"total": len(vms),
		})
	}
}

// HandleProbeVM handles GET /vms/:vm_name/probe. It runs the VM's primary
// strategy health check without fetching a quote.
func HandleProbeVM(h *hub.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		vmName := c.Param("vm_name")

		reachable, err := h.ProbeVM(c.Request.Context(), vmName)
		if err != nil {
			logx.Errorf("probe vm=%s: %v", vmName, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"vm_name":   vmName,
			"reachable": reachable,
		})
	}
}

type vmConfigRequest struct {
	Endpoint         string `json:"endpoint" binding:"required"`
	Type             string `json:"type"`
	ParsingStrategy  string `json:"parsing_strategy" binding:"required"`
	Timeout          int    `json:"timeout"`
	RetryAttempts    int    `json:"retry_attempts"`
	FallbackStrategy string `json:"fallback_strategy"`
	HealthCheckPath  string `json:"health_check_path"`
	TLSVerify        bool   `json:"tls_verify"`
}

// HandleSetVMConfig handles POST /vms/:vm_name/config.
func HandleSetVMConfig(h *hub.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		vmName := c.Param("vm_name")

		var req vmConfigRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		// The configured strategy names must resolve in the registry.
		if !h.HasStrategy(req.ParsingStrategy) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": fmt.Sprintf("unknown parsing_strategy %q", req.ParsingStrategy),
				"hint":  fmt.Sprintf("available strategies: %v", h.Strategies()),
			})
			return
		}
		if req.FallbackStrategy != "" && !h.HasStrategy(req.FallbackStrategy) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": fmt.Sprintf("unknown fallback_strategy %q", req.FallbackStrategy),
				"hint":  fmt.Sprintf("available strategies: %v", h.Strategies()),
			})
			return
		}

		cfg := attest.VMConfig{
			Endpoint:         req.Endpoint,
			Type:             req.Type,
			ParsingStrategy:  req.ParsingStrategy,
			Timeout:          req.Timeout,
			RetryAttempts:    req.RetryAttempts,
			FallbackStrategy: req.FallbackStrategy,
			HealthCheckPath:  req.HealthCheckPath,
			TLSVerify:        req.TLSVerify,
		}
		cfg.Normalize()

		if err := h.VMs().AddVM(vmName, cfg); err != nil {
			logx.Errorf("set vm config vm=%s: %v", vmName, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store vm configuration"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "VM configuration added/updated: " + vmName,
			"vm_name": vmName,
			"config":  cfg,
		})
	}
}

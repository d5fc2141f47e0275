package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/scrtlabs/attest-hub/internal/attest"
	"github.com/scrtlabs/attest-hub/internal/hub"
	"github.com/scrtlabs/attest-hub/internal/logx"
)

// HandleVMAttestation handles GET /attestation/:vm_name.
func HandleVMAttestation(h *hub.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		vmName := c.Param("vm_name")

		data, err := h.GetAttestation(c.Request.Context(), vmName)
		if err != nil {
			if isAttestationFailure(err) {
				logx.Errorf("attestation failed vm=%s: %v", vmName, err)
				c.JSON(http.StatusOK, gin.H{
					"success": false,
					"errors":  []string{err.Error()},
				})
				return
			}
			logx.Errorf("attestation error vm=%s: %v", vmName, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"data":    fromAttestation(data),
			"errors":  []string{},
		})
	}
}

// HandleDualAttestation handles GET /attestation/dual.
func HandleDualAttestation(h *hub.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		dual, err := h.GetDualAttestation(c.Request.Context())
		if err != nil {
			var dualErr *attest.DualAttestationError
			if errors.As(err, &dualErr) {
				logx.Errorf("dual attestation failed: %v", err)
				c.JSON(http.StatusOK, gin.H{
					"success":        false,
					"errors":         []string{err.Error()},
					"correlation_id": dualErr.CorrelationID,
					"timestamp":      time.Now().UTC().Format(time.RFC3339),
				})
				return
			}
			logx.Errorf("dual attestation error: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		data := make(map[string]AttestationDataResponse, len(dual.Attestations))
		for name, att := range dual.Attestations {
			data[name] = fromAttestation(att)
		}
		c.JSON(http.StatusOK, gin.H{
			"success":        true,
			"data":           data,
			"correlation_id": dual.CorrelationID,
			"timestamp":      dual.Timestamp.Format(time.RFC3339),
			"errors":         []string{},
		})
	}
}

// HandleAllAttestations handles GET /attestation/all.
func HandleAllAttestations(h *hub.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		configs, err := h.VMs().Configs()
		if err != nil {
			logx.Errorf("list vms: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		results, err := h.GetAllAttestations(c.Request.Context())
		if err != nil {
			logx.Errorf("all attestations: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		data := make(map[string]AttestationDataResponse, len(results))
		for name, att := range results {
			data[name] = fromAttestation(att)
		}

		errs := []string{}
		for name := range configs {
			if _, ok := results[name]; !ok {
				errs = append(errs, name+": attestation failed")
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"success":        len(errs) == 0,
			"data":           data,
			"errors":         errs,
			"total_vms":      len(configs),
			"successful_vms": len(results),
		})
	}
}

type batchAttestationRequest struct {
	VMNames       []string `json:"vm_names" binding:"required,min=1"`
	CorrelationID string   `json:"correlation_id"`
}

// HandleBatchAttestations handles POST /attestation/batch.
func HandleBatchAttestations(h *hub.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req batchAttestationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		correlationID := req.CorrelationID
		if correlationID == "" {
			correlationID = uuid.NewString()
		}

		results, err := h.GetBatchAttestations(c.Request.Context(), req.VMNames)
		if err != nil {
			if errors.Is(err, attest.ErrVMNotConfigured) {
				logx.Errorf("batch attestation rejected: %v", err)
				errs := make(map[string]string, len(req.VMNames))
				for _, name := range req.VMNames {
					errs[name] = err.Error()
				}
				c.JSON(http.StatusOK, gin.H{
					"success":        false,
					"data":           map[string]AttestationDataResponse{},
					"errors":         errs,
					"correlation_id": correlationID,
				})
				return
			}
			logx.Errorf("batch attestation error: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		data := make(map[string]AttestationDataResponse, len(results))
		errs := make(map[string]string)
		for _, name := range req.VMNames {
			if att, ok := results[name]; ok {
				data[name] = fromAttestation(att)
			} else {
				errs[name] = "attestation failed"
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"success":        len(errs) == 0,
			"data":           data,
			"errors":         errs,
			"correlation_id": correlationID,
		})
	}
}

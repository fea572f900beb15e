package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"hermes-chat-api/pkg/services"
)

// DataHandler exposes the loaded dataset.
type DataHandler struct {
	dataset *services.DatasetService
}

// NewDataHandler creates the dataset handler.
func NewDataHandler(dataset *services.DatasetService) *DataHandler {
	return &DataHandler{dataset: dataset}
}

// GetData returns every shipment record.
func (h *DataHandler) GetData(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"count":   h.dataset.Count(),
		"records": h.dataset.Records(),
	})
}

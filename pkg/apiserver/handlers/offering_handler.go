package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/flowforge/automation/pkg/offering"
)

type OfferingHandler struct{}

func NewOfferingHandler() *OfferingHandler {
	return &OfferingHandler{}
}

type offeringResponse struct {
	Mask          int      `json:"mask"`
	Name          string   `json:"name"`
	Primary       *int     `json:"primary,omitempty"`
	CRM           bool     `json:"crm"`
	Free          bool     `json:"free"`
	Features      []string `json:"features"`
	Abbreviations []string `json:"abbreviations"`
}

// Get evaluates an offering bitmask. A zero mask reports the PRO defaults.
func (h *OfferingHandler) Get(c *gin.Context) {
	mask, err := strconv.Atoi(c.Param("mask"))
	if err != nil || mask < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid mask"})
		return
	}

	o := offering.New(mask)
	resp := offeringResponse{
		Mask:          o.Mask(),
		Name:          o.Name(),
		CRM:           o.IsCRM(),
		Free:          o.IsFree(),
		Features:      o.Features(),
		Abbreviations: offering.Abbreviations(o.Mask()),
	}
	if primary, ok := o.PrimaryOffering(); ok {
		resp.Primary = &primary
	}
	c.JSON(http.StatusOK, resp)
}

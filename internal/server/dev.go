package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"vibe-trader/internal/usecase"
)

type swapTestRequest struct {
	OutputMint string          `json:"outputMint"`
	AmountSol  decimal.Decimal `json:"amountSol"`
}

func (s *Server) handleResetQuota(c *gin.Context) {
	id := identityOf(c)
	if err := s.deps.Admin.ResetQuota(c.Request.Context(), id.ID); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "identifier": id.ID})
}

func (s *Server) handleTestOrder(c *gin.Context) {
	req, ok := bindSwapTest(c)
	if !ok {
		return
	}
	order, err := s.deps.Admin.TestOrder(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "order": order})
}

func (s *Server) handleTestExecute(c *gin.Context) {
	req, ok := bindSwapTest(c)
	if !ok {
		return
	}
	result, err := s.deps.Admin.TestExecute(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "result": result})
}

func bindSwapTest(c *gin.Context) (usecase.SwapRequest, bool) {
	var body swapTestRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid request body", Code: string(usecase.ErrorInvalidInput)})
		return usecase.SwapRequest{}, false
	}
	return usecase.SwapRequest{OutputMint: body.OutputMint, AmountSOL: body.AmountSol}, true
}

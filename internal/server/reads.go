package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"vibe-trader/internal/domain"
	"vibe-trader/internal/usecase"
)

func (s *Server) handlePortfolio(c *gin.Context) {
	view, err := s.deps.Portfolio.Portfolio(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleLeaderboard(c *gin.Context) {
	q := usecase.LeaderboardQuery{
		Sort:   domain.LeaderboardSort(c.Query("sort")),
		Limit:  queryInt(c, "limit"),
		Offset: queryInt(c, "offset"),
	}
	view, err := s.deps.Leaderboard.Leaderboard(c.Request.Context(), q)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleLeaderboardMe(c *gin.Context) {
	id := identityOf(c)
	if id.ID == "" {
		c.JSON(http.StatusUnauthorized, errorResponse{Error: "User not identified"})
		return
	}
	stats, err := s.deps.Leaderboard.Me(c.Request.Context(), id.ID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// queryInt returns the integer query parameter, or zero when it is absent
// or malformed.
func queryInt(c *gin.Context, key string) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return 0
	}
	return n
}

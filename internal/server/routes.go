package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/checksumhq/danny/internal/onboarding"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// registerRoutes sets up all API routes on the Gin router.
func registerRoutes(router *gin.Engine, db *gorm.DB) {
	router.GET("/healthz", handleHealth(db))

	router.POST("/deployment", handleCreateDeployment(db))
	router.GET("/deployments", handleListDeployments(db))

	router.GET("/channels", handleChannels(db))
	router.GET("/channels/:id/threads", handleChannelThreads(db))
	router.GET("/sessions/:id", handleSession(db))
}

func handleHealth(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

type deploymentRequest struct {
	Component string `json:"component" binding:"required"`
	SHA       string `json:"sha" binding:"required"`
}

func handleCreateDeployment(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req deploymentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if _, err := RecordDeployment(db, req.Component, req.SHA); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"result": "ok"})
	}
}

func handleListDeployments(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
		if err != nil || limit <= 0 || limit > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
		deps, err := RecentDeployments(db, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"result": deps})
	}
}

func handleChannels(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := ChannelSummary(db)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"result": rows})
	}
}

func handleChannelThreads(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := ChannelThreads(db, c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"result": rows})
	}
}

func handleSession(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "session id must be a positive integer"})
			return
		}
		snap, err := onboarding.State(db, uint(id))
		if errors.Is(err, onboarding.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"result": snap})
	}
}

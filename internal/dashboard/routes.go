package dashboard

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/sessionyard/internal/errs"
	"github.com/zulandar/sessionyard/internal/sessiondb"
	"github.com/zulandar/sessionyard/internal/store"
)

// registerRoutes sets up all dashboard routes on the Gin router.
func registerRoutes(router *gin.Engine, db *sessiondb.DB) {
	api := router.Group("/api")
	api.GET("/stats", handleStats(db))
	api.GET("/projects", handleProjects(db))
	api.GET("/projects/:id/sessions", handleSessions(db))
	api.GET("/sessions/:id", handleSession(db))
	api.GET("/sessions/:id/messages", handleMessages(db))
	api.GET("/search", handleSearch(db))
	api.GET("/writer", handleWriter(db))
	api.GET("/events", handleSSE(db.Events()))
}

// writeError maps an error to a status code by its kind.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errs.KindInvalidInput), errors.Is(err, errs.KindInvalidUTF8):
		status = http.StatusBadRequest
	case errors.Is(err, errs.KindCoordination):
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": string(errs.KindOf(err))})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "kind": string(errs.KindInvalidInput)})
}

func handleStats(db *sessiondb.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := db.GetStats()
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}

func handleProjects(db *sessiondb.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		projects, err := db.ListProjects()
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"projects": projects})
	}
}

func handleSessions(db *sessiondb.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			badRequest(c, "project id must be an integer")
			return
		}
		sessions, err := db.ListSessions(id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": sessions})
	}
}

func handleSession(db *sessiondb.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := db.ResolveSessionID(c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		s, err := db.GetSession(id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, s)
	}
}

func handleMessages(db *sessiondb.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := db.ResolveSessionID(c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		limit, ok := intQuery(c, "limit")
		if !ok {
			return
		}
		offset, ok := intQuery(c, "offset")
		if !ok {
			return
		}
		msgs, err := db.ListMessages(id, limit, offset)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"session_id": id, "messages": msgs})
	}
}

func handleSearch(db *sessiondb.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		q := c.Query("q")
		if q == "" {
			badRequest(c, "q is required")
			return
		}
		order, err := store.ParseOrder(c.Query("order"))
		if err != nil {
			writeError(c, err)
			return
		}
		opts := store.SearchOptions{Query: q, Order: order}
		if opts.ProjectID, err = int64Query(c, "project"); err != nil {
			badRequest(c, "project must be an integer")
			return
		}
		limit, ok := intQuery(c, "limit")
		if !ok {
			return
		}
		opts.Limit = limit
		for name, dst := range map[string]**int64{"start": &opts.Start, "end": &opts.End} {
			v, err := int64Query(c, name)
			if err != nil {
				badRequest(c, name+" must be a millisecond timestamp")
				return
			}
			if c.Query(name) != "" {
				*dst = &v
			}
		}

		results, err := db.SearchFTS(opts)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"query": q, "results": results})
	}
}

func handleWriter(db *sessiondb.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		info, err := db.WriterInfo()
		if err != nil {
			writeError(c, err)
			return
		}
		health, err := db.CheckWriterHealth()
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"role":   db.Role(),
			"health": health,
			"lease":  info,
		})
	}
}

func intQuery(c *gin.Context, name string) (int, bool) {
	s := c.Query(name)
	if s == "" {
		return 0, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		badRequest(c, name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func int64Query(c *gin.Context, name string) (int64, error) {
	s := c.Query(name)
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

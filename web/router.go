package web

import (
	"log"
	"net/http"

	"github.com/deemkeen/tusk/activitypub"
	"github.com/deemkeen/tusk/domain"
	"github.com/deemkeen/tusk/util"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

const activityContentType = "application/activity+json; charset=utf-8"

// Max request body size for inbound activities
const maxInboxBody = 1 * 1024 * 1024

// Store is the read side of the database the HTTP layer uses directly
type Store interface {
	InstanceStats
	ReadLocalAccountByUsername(username string) (*domain.Account, error)
	ReadGroupById(id uuid.UUID) (*domain.Group, error)
}

// Router builds the HTTP surface: inboxes, actor discovery, nodeinfo,
// health and metrics
func Router(conf *util.AppConfig, store Store, deps *activitypub.InboxDeps) *gin.Engine {
	log.Printf("Starting HTTP server on %s:%d", conf.Conf.Host, conf.Conf.HttpPort)

	// Set Gin to use the same log writer as the rest of the application
	gin.DefaultWriter = util.GetLogWriter()
	gin.DefaultErrorWriter = util.GetLogWriter()

	g := gin.Default()
	g.Use(RequestIdMiddleware())
	g.Use(MetricsMiddleware())
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	// Global rate limiter: 10 requests per second per IP, burst of 20
	globalLimiter := NewRateLimiter(rate.Limit(10), 20)
	g.Use(RateLimitMiddleware(globalLimiter))

	g.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": util.GetVersion()})
	})

	if conf.Conf.WithMetrics {
		g.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	g.GET("/.well-known/nodeinfo", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(GetWellKnownNodeInfo(conf)))
	})

	g.GET("/nodeinfo/2.0", func(c *gin.Context) {
		c.JSON(http.StatusOK, GetNodeInfo20(store, conf))
	})

	g.GET("/.well-known/webfinger", func(c *gin.Context) {
		username, ok := parseWebfingerResource(c.Query("resource"), conf.Conf.SslDomain)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"detail": "Not Found"})
			return
		}
		acc := localAccount(c, store, username)
		if acc == nil {
			return
		}
		body, err := GetWebfinger(acc, conf)
		if err != nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Data(http.StatusOK, "application/jrd+json; charset=utf-8", body)
	})

	if !conf.Conf.WithAp {
		return g
	}

	// Stricter rate limit for ActivityPub endpoints: 5 req/sec per IP
	apLimiter := RateLimitMiddleware(NewRateLimiter(rate.Limit(5), 10))
	maxBodySize := MaxBytesMiddleware(maxInboxBody)

	g.GET("/users/:username", func(c *gin.Context) {
		acc := localAccount(c, store, c.Param("username"))
		if acc == nil {
			return
		}
		body, err := GetActor(acc, conf)
		if err != nil {
			log.Printf("Failed to render actor %s: %v", acc.Username, err)
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Data(http.StatusOK, activityContentType, body)
	})

	// Shared inbox: the engine works out the local audience from addressing
	g.POST("/inbox", apLimiter, maxBodySize, func(c *gin.Context) {
		activitypub.HandleInboxWithDeps(c.Writer, c.Request, activitypub.Options{}, deps)
	})

	g.POST("/users/:username/inbox", apLimiter, maxBodySize, func(c *gin.Context) {
		acc := localAccount(c, store, c.Param("username"))
		if acc == nil {
			return
		}
		opts := activitypub.Options{DeliveredToAccountId: &acc.Id}
		activitypub.HandleInboxWithDeps(c.Writer, c.Request, opts, deps)
	})

	g.POST("/groups/:id/inbox", apLimiter, maxBodySize, func(c *gin.Context) {
		groupId, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Group not found"})
			return
		}
		group, err := store.ReadGroupById(groupId)
		if err != nil {
			log.Printf("Inbox: Failed to read group %s: %v", groupId, err)
			c.Status(http.StatusInternalServerError)
			return
		}
		if group == nil || !group.Local {
			c.JSON(http.StatusNotFound, gin.H{"error": "Group not found"})
			return
		}
		opts := activitypub.Options{DeliveredToGroupId: &group.Id}
		activitypub.HandleInboxWithDeps(c.Writer, c.Request, opts, deps)
	})

	return g
}

// localAccount looks up a local account and writes the error response itself
// when there is none
func localAccount(c *gin.Context, store Store, username string) *domain.Account {
	acc, err := store.ReadLocalAccountByUsername(username)
	if err != nil {
		log.Printf("Failed to read account %s: %v", username, err)
		c.Status(http.StatusInternalServerError)
		return nil
	}
	if acc == nil || acc.Suspended {
		c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
		return nil
	}
	return acc
}

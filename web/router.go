package web

import (
	"fmt"
	"log"
	"net/http"

	"loxodon/activitypub"
	"loxodon/db"
	"loxodon/domain"
	"loxodon/metrics"
	"loxodon/util"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// Server is the inbound HTTP surface of the federation engine. Inbox
// requests are verified here and handed to the inbox manager; the
// response never waits for processing.
type Server struct {
	conf     *util.AppConfig
	database *db.DB
	resolver activitypub.Resolver
	inbox    *activitypub.InboxManager
}

func NewServer(conf *util.AppConfig, database *db.DB, resolver activitypub.Resolver, inbox *activitypub.InboxManager) *Server {
	return &Server{
		conf:     conf,
		database: database,
		resolver: resolver,
		inbox:    inbox,
	}
}

func (s *Server) Router() error {
	log.Printf("Starting federation server on %s:%d", s.conf.Conf.Host, s.conf.Conf.HttpPort)
	g := gin.Default()
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	// Global rate limiter: 10 requests per second per IP, burst of 20
	globalLimiter := NewRateLimiter(rate.Limit(10), 20)
	g.Use(RateLimitMiddleware(globalLimiter))

	// Stricter rate limit for federation endpoints: 5 req/sec per IP
	apLimiter := NewRateLimiter(rate.Limit(5), 10)

	// Max 1MB request body size for activities
	maxBodySize := MaxBytesMiddleware(1 * 1024 * 1024)

	g.GET("/.well-known/webfinger", func(c *gin.Context) {
		s.HandleWebfinger(c)
	})

	g.GET("/.well-known/nodeinfo", func(c *gin.Context) {
		s.HandleNodeinfoDiscovery(c)
	})

	g.GET("/nodeinfo/2.0", func(c *gin.Context) {
		s.HandleNodeinfo(c)
	})

	g.GET("/users/:actor", func(c *gin.Context) {
		c.Header("Content-Type", "application/activity+json; charset=utf-8")
		err, doc := s.GetActorDocument(c.Param("actor"))
		if err != nil {
			c.JSON(404, gin.H{"error": "Actor not found"})
			return
		}
		c.Render(200, render.String{Format: doc})
	})

	g.GET("/users/:actor/followers", func(c *gin.Context) {
		c.Header("Content-Type", "application/activity+json; charset=utf-8")
		err, doc := s.GetFollowersCollection(c.Param("actor"))
		if err != nil {
			c.JSON(404, gin.H{"error": "Actor not found"})
			return
		}
		c.Render(200, render.String{Format: doc})
	})

	// Shared inbox
	g.POST("/inbox", RateLimitMiddleware(apLimiter), maxBodySize, func(c *gin.Context) {
		s.HandleInbox(c, nil)
	})

	// Per-actor inbox
	g.POST("/users/:actor/inbox", RateLimitMiddleware(apLimiter), maxBodySize, func(c *gin.Context) {
		err, inboxActor := s.database.ReadLocalActorByName(c.Param("actor"))
		if err != nil || inboxActor == nil {
			c.JSON(404, gin.H{"error": "Actor not found"})
			return
		}
		s.HandleInbox(c, inboxActor)
	})

	// RSS feed of federated posts
	g.GET("/feed", func(c *gin.Context) {
		c.Header("Content-Type", "application/xml; charset=utf-8")
		rss, err := s.GetFeed()
		if err != nil {
			c.Render(404, render.String{Format: ""})
		} else {
			c.Render(200, render.String{Format: rss})
		}
	})

	g.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return g.Run(fmt.Sprintf("%s:%d", s.conf.Conf.Host, s.conf.Conf.HttpPort))
}

// HandleInbox verifies the request signature and enqueues the carried
// batch. inboxActor is nil for the shared inbox. The 202 goes out before
// any activity is processed; processing failures are log-only.
func (s *Server) HandleInbox(c *gin.Context, inboxActor *domain.Actor) {
	body, err := c.GetRawData()
	if err != nil {
		log.Printf("Inbox: Failed to read body: %v", err)
		c.Status(http.StatusBadRequest)
		return
	}

	activities, err := activitypub.ParseInbound(body)
	if err != nil {
		log.Printf("Inbox: Failed to parse body: %v", err)
		c.Status(http.StatusBadRequest)
		return
	}

	keyId, err := activitypub.SignatureKeyId(c.Request)
	if err != nil {
		log.Printf("Inbox: Missing or invalid HTTP signature: %v", err)
		c.Status(http.StatusUnauthorized)
		return
	}

	signatureActor, err := s.resolver.ResolveOrFetch(activitypub.KeyIdToActorURL(keyId))
	if err != nil {
		log.Printf("Inbox: Failed to resolve signing actor %s: %v", keyId, err)
		c.Status(http.StatusUnauthorized)
		return
	}

	if _, err := activitypub.VerifyRequest(c.Request, signatureActor.PublicKeyPem); err != nil {
		log.Printf("Inbox: Signature verification failed for %s: %v", signatureActor.URL, err)
		c.Status(http.StatusUnauthorized)
		return
	}

	for i := range activities {
		metrics.InboundActivitiesTotal.WithLabelValues(activities[i].Type).Inc()
	}

	s.inbox.Enqueue(activities, signatureActor, inboxActor)

	c.Status(http.StatusAccepted)
}

package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/deemkeen/fedsync/activitypub"
	"github.com/deemkeen/fedsync/db"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	activityContentType = "application/activity+json; charset=utf-8"
	maxActivitySize     = 1 << 20
)

// Server holds what the HTTP handlers read from.
type Server struct {
	env *activitypub.Env
	db  *db.DB
}

// NewRouter builds the gin engine. The ActivityPub endpoints are only
// mounted with withAp set.
func NewRouter(env *activitypub.Env, database *db.DB) *gin.Engine {
	s := &Server{env: env, db: database}

	g := gin.New()
	g.Use(gin.Recovery(), RequestLogger(env.Log))
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	g.GET("/users/:actor/feed.atom", s.handleFeed)
	g.GET("/.well-known/webfinger", s.handleWebfinger)
	g.GET("/.well-known/nodeinfo", s.handleNodeInfoLinks)
	g.GET("/nodeinfo/2.1", s.handleNodeInfo)

	if env.Conf.Conf.WithAp {
		maxBodySize := MaxBytesMiddleware(maxActivitySize)

		g.GET("/users/:actor", s.handleActor)
		g.GET("/users/:actor/followers", s.handleFollowers)
		g.GET("/users/:actor/outbox", s.handleOutbox)
		g.GET("/notes/:id", s.handleNote)

		g.POST("/inbox", maxBodySize, func(c *gin.Context) {
			env.HandleInbox(c.Writer, c.Request)
		})
		g.POST("/users/:actor/inbox", maxBodySize, func(c *gin.Context) {
			if _, err := database.ReadAccByUsername(c.Param("actor")); err != nil {
				notFound(c)
				return
			}
			env.HandleInbox(c.Writer, c.Request)
		})
	}

	return g
}

// Serve runs the HTTP server until ctx is cancelled.
func Serve(ctx context.Context, env *activitypub.Env, database *db.DB) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", env.Conf.Conf.Host, env.Conf.Conf.HttpPort),
		Handler:           NewRouter(env, database),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			env.Log.Warn("HTTP server shutdown failed", zap.Error(err))
		}
	}()

	env.Log.Info("Starting HTTP server", zap.String("addr", srv.Addr), zap.Bool("withAp", env.Conf.Conf.WithAp))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func renderActivity(c *gin.Context, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Data(http.StatusOK, activityContentType, b)
}

func notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"detail": "Not Found"})
}

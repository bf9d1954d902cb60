// Package httpapi exposes a running session over a small HTTP API so it can
// be inspected and driven while the client runs headless.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/luma/msnp/client"
	"github.com/luma/msnp/contacts"
	"github.com/luma/msnp/session"
)

// DefaultWait bounds how long a request waits for the event loop.
const DefaultWait = 5 * time.Second

type handlers struct {
	sess *session.Session
	exec client.Executor
	log  *zap.Logger
}

// NewRouter builds the API of sess. Every access to the session is posted to
// exec.
func NewRouter(sess *session.Session, exec client.Executor, debugHTTP bool, log *zap.Logger) *gin.Engine {
	r := setupRouter(debugHTTP, log)

	h := &handlers{sess: sess, exec: exec, log: log}

	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	r.GET("/status", h.status)
	r.PUT("/status", h.setStatus)
	r.GET("/buddies", h.buddies)
	r.POST("/messages", h.sendMessage)

	return r
}

func setupRouter(debugHTTP bool, log *zap.Logger) *gin.Engine {
	gin.DisableConsoleColor()
	if !debugHTTP {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	r.Use(ginzap.GinzapWithConfig(log, &ginzap.Config{
		TimeFormat: time.RFC3339,
		UTC:        true,
		SkipPaths:  []string{"/ping"},
	}))

	// Logs all panic to error log
	r.Use(ginzap.RecoveryWithZap(log, true))

	return r
}

// onLoop runs fn on the executor and waits for it to finish.
func (h *handlers) onLoop(ctx context.Context, fn func()) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultWait)
	defer cancel()

	done := make(chan struct{})
	h.exec.Post(func() {
		fn()
		close(done)
	})

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *handlers) abort(c *gin.Context, err error) {
	code := http.StatusInternalServerError

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		code = http.StatusGatewayTimeout
	case errors.Is(err, session.ErrNotConnected):
		code = http.StatusConflict
	case errors.Is(err, session.ErrInvalidStatus):
		code = http.StatusBadRequest
	}

	h.log.Debug("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
	c.AbortWithStatusJSON(code, gin.H{"error": err.Error()})
}

func (h *handlers) status(c *gin.Context) {
	var body gin.H

	err := h.onLoop(c.Request.Context(), func() {
		body = gin.H{
			"account":      h.sess.Account(),
			"state":        h.sess.State().String(),
			"version":      h.sess.Version(),
			"status":       string(h.sess.Status()),
			"friendlyName": h.sess.FriendlyName(),
			"buddies":      h.sess.Contacts().Len(),
			"switchboards": len(h.sess.Switchboards()),
		}
	})
	if err != nil {
		h.abort(c, err)
		return
	}

	c.JSON(http.StatusOK, body)
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h *handlers) setStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var opErr error
	err := h.onLoop(c.Request.Context(), func() {
		opErr = h.sess.SetStatus(contacts.Presence(req.Status))
	})
	if err == nil {
		err = opErr
	}

	if err != nil {
		h.abort(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

type buddy struct {
	Passport     string `json:"passport"`
	FriendlyName string `json:"friendlyName"`
	Status       string `json:"status"`
	Lists        string `json:"lists"`
	Groups       []int  `json:"groups"`
}

func (h *handlers) buddies(c *gin.Context) {
	var out []buddy

	err := h.onLoop(c.Request.Context(), func() {
		users := h.sess.Contacts().Users()

		out = make([]buddy, 0, len(users))
		for _, u := range users {
			out = append(out, buddy{
				Passport:     u.Passport,
				FriendlyName: u.FriendlyName,
				Status:       string(u.Presence),
				Lists:        u.Lists.String(),
				Groups:       u.GroupIDs(),
			})
		}
	})
	if err != nil {
		h.abort(c, err)
		return
	}

	c.JSON(http.StatusOK, out)
}

type messageRequest struct {
	To   string `json:"to" binding:"required"`
	Text string `json:"text" binding:"required"`
}

// sendMessage opens, or reuses, the conversation with To. The text is
// queued until the buddy joined.
func (h *handlers) sendMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var (
		id    string
		opErr error
	)

	err := h.onLoop(c.Request.Context(), func() {
		sb, err := h.sess.StartConversation(req.To)
		if err != nil {
			opErr = err
			return
		}

		id = sb.ID().String()
		opErr = sb.SendText(req.Text)
	})
	if err == nil {
		err = opErr
	}

	if err != nil {
		h.abort(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"conversation": id})
}

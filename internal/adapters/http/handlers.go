package http

import (
	"errors"
	"net/http"

	"github.com/dkeye/Estimate/internal/app/orch"
	"github.com/dkeye/Estimate/internal/auth"
	"github.com/dkeye/Estimate/internal/config"
	"github.com/dkeye/Estimate/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type handlers struct {
	orch   *orch.Orchestrator
	tokens *auth.JWT
	cfg    *config.Config
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotParticipant), errors.Is(err, domain.ErrNotHost):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrSessionArchived):
		return http.StatusConflict
	case errors.Is(err, domain.ErrBadPayload), errors.Is(err, domain.ErrInvalidStory),
		errors.Is(err, domain.ErrInvalidVoteValue), errors.Is(err, domain.ErrUsernameEmpty),
		errors.Is(err, domain.ErrUsernameTooLong), errors.Is(err, domain.ErrUserIDInvalid):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	status := httpStatus(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("request failed")
	}
	c.AbortWithStatusJSON(status, gin.H{"error": domain.Reason(err), "message": domain.Message(err)})
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "rooms": len(h.orch.Rooms.List())})
}

type tokenRequest struct {
	Token string `json:"token" binding:"required"`
}

// storeToken keeps a verified bearer token in the cookie session so browsers
// can open the WebSocket without custom headers.
func (h *handlers) storeToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, domain.ErrBadPayload)
		return
	}
	user, err := h.tokens.Verify(req.Token)
	if err != nil {
		abortWithError(c, err)
		return
	}
	s := sessions.Default(c)
	s.Set(sessionTokenKey, req.Token)
	if err := s.Save(); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *handlers) clearToken(c *gin.Context) {
	s := sessions.Default(c)
	s.Delete(sessionTokenKey)
	_ = s.Save()
	c.Status(http.StatusNoContent)
}

type devTokenRequest struct {
	UserID   string `json:"userId"`
	Username string `json:"username" binding:"required"`
}

func (h *handlers) devToken(c *gin.Context) {
	var req devTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, domain.ErrBadPayload)
		return
	}
	if req.UserID == "" {
		req.UserID = uuid.NewString()
	}
	user, err := domain.NewUser(req.UserID, req.Username)
	if err != nil {
		abortWithError(c, err)
		return
	}
	token, err := h.tokens.Issue(user, h.cfg.TokenTTL)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
}

type createSessionRequest struct {
	Name       string            `json:"name" binding:"required,max=128"`
	VotingMode domain.VotingMode `json:"votingMode"`
}

func (h *handlers) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, domain.ErrBadPayload)
		return
	}
	if req.VotingMode != "" && !req.VotingMode.Valid() {
		abortWithError(c, domain.ErrBadPayload)
		return
	}
	sess, err := h.orch.Machine.CreateSession(c.Request.Context(), req.Name, req.VotingMode, currentUser(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (h *handlers) getSession(c *gin.Context) {
	state, err := h.orch.Machine.Snapshot(c.Request.Context(), domain.SessionID(c.Param("id")), currentUser(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

type enrollRequest struct {
	AvatarURL string `json:"avatarUrl"`
}

// enroll is the share-link entry point: the caller becomes a participant.
func (h *handlers) enroll(c *gin.Context) {
	var req enrollRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			abortWithError(c, domain.ErrBadPayload)
			return
		}
	}
	sess, err := h.orch.Machine.Enroll(c.Request.Context(), domain.SessionID(c.Param("id")), currentUser(c), req.AvatarURL)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *handlers) endSession(c *gin.Context) {
	if err := h.orch.EndSession(c.Request.Context(), domain.SessionID(c.Param("id")), currentUser(c)); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) rounds(c *gin.Context) {
	rounds, err := h.orch.Machine.History(c.Request.Context(), domain.SessionID(c.Param("id")), c.Param("storyId"), currentUser(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rounds": rounds})
}

package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/relayauth/adapters/signer"
	"github.com/layer-3/relayauth/core"
	"github.com/layer-3/relayauth/service"
)

// AuthHandlers contains HTTP handlers for the relay auth control API
type AuthHandlers struct {
	manager *service.AuthManager
}

// NewAuthHandlers creates new auth handlers
func NewAuthHandlers(manager *service.AuthManager) *AuthHandlers {
	return &AuthHandlers{
		manager: manager,
	}
}

type relayRequest struct {
	URL string `json:"url" binding:"required"`
}

// Relays lists the state of every monitored relay
func (h *AuthHandlers) Relays(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"relays": h.manager.GetAllStates()})
}

// Relay returns one relay's state
func (h *AuthHandlers) Relay(c *gin.Context) {
	url := c.Query("url")
	if url == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing url"})
		return
	}

	state, ok := h.manager.GetRelayState(url)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Relay not monitored"})
		return
	}
	c.JSON(http.StatusOK, state)
}

// Pending lists the challenges waiting on a decision
func (h *AuthHandlers) Pending(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"pending": h.manager.GetPendingChallenges()})
}

// Authenticate accepts a relay's challenge and waits for the outcome
func (h *AuthHandlers) Authenticate(c *gin.Context) {
	var req relayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := h.manager.Authenticate(c.Request.Context(), req.URL); err != nil {
		writeAuthError(c, err)
		return
	}
	h.writeState(c, req.URL)
}

// Retry re-attempts a failed relay
func (h *AuthHandlers) Retry(c *gin.Context) {
	var req relayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := h.manager.Retry(c.Request.Context(), req.URL); err != nil {
		writeAuthError(c, err)
		return
	}
	h.writeState(c, req.URL)
}

// Reject declines a relay's challenge
func (h *AuthHandlers) Reject(c *gin.Context) {
	var req struct {
		URL                string `json:"url" binding:"required"`
		RememberForSession bool   `json:"remember_for_session"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	h.manager.Reject(req.URL, req.RememberForSession)
	c.JSON(http.StatusOK, gin.H{"message": "Rejected"})
}

// ClearRejections forgets every session rejection
func (h *AuthHandlers) ClearRejections(c *gin.Context) {
	h.manager.ClearSessionRejections()
	c.JSON(http.StatusOK, gin.H{"message": "Cleared"})
}

// Preferences lists every stored preference
func (h *AuthHandlers) Preferences(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"preferences": h.manager.GetAllPreferences()})
}

// SetPreference stores a decision for a relay
func (h *AuthHandlers) SetPreference(c *gin.Context) {
	var req struct {
		URL        string          `json:"url" binding:"required"`
		Preference core.Preference `json:"preference" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := h.manager.SetPreference(req.URL, req.Preference); err != nil {
		writeAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": service.NormalizeURL(req.URL), "preference": req.Preference})
}

// RemovePreference forgets the decision for a relay
func (h *AuthHandlers) RemovePreference(c *gin.Context) {
	url := c.Query("url")
	if url == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing url"})
		return
	}

	h.manager.RemovePreference(url)
	c.JSON(http.StatusOK, gin.H{"message": "Removed"})
}

// Signer reports whether a signer is available
func (h *AuthHandlers) Signer(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"available": h.manager.HasSignerAvailable()})
}

// SetSigner loads a hex private key as the manager's signer. Relays waiting
// with preference Always authenticate once it is set.
func (h *AuthHandlers) SetSigner(c *gin.Context) {
	var req struct {
		PrivateKey string `json:"private_key" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	keySigner, err := signer.NewKeySignerFromHex(req.PrivateKey)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid private key"})
		return
	}

	h.manager.SetSigner(keySigner)
	c.JSON(http.StatusOK, gin.H{"available": true, "identity": keySigner.Identity()})
}

// ClearSigner removes the signer
func (h *AuthHandlers) ClearSigner(c *gin.Context) {
	h.manager.SetSigner(nil)
	c.JSON(http.StatusOK, gin.H{"available": false})
}

func (h *AuthHandlers) writeState(c *gin.Context, url string) {
	state, ok := h.manager.GetRelayState(url)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"url": url})
		return
	}
	c.JSON(http.StatusOK, state)
}

// writeAuthError maps manager errors to status codes
func writeAuthError(c *gin.Context, err error) {
	statusCode := http.StatusInternalServerError
	errorMsg := "Authentication failed"

	switch {
	case errors.Is(err, core.ErrRelayNotMonitored):
		statusCode = http.StatusNotFound
		errorMsg = "Relay not monitored"
	case errors.Is(err, core.ErrNoChallenge):
		statusCode = http.StatusConflict
		errorMsg = "Relay has no challenge"
	case errors.Is(err, core.ErrNotFailed):
		statusCode = http.StatusConflict
		errorMsg = "Relay is not in failed state"
	case errors.Is(err, service.ErrAuthInProgress):
		statusCode = http.StatusConflict
		errorMsg = "Authentication already in progress"
	case errors.Is(err, core.ErrSignerUnavailable):
		statusCode = http.StatusServiceUnavailable
		errorMsg = "No signer available"
	case errors.Is(err, core.ErrInvalidPreference):
		statusCode = http.StatusBadRequest
		errorMsg = "Invalid preference"
	case errors.Is(err, core.ErrManagerDestroyed):
		statusCode = http.StatusServiceUnavailable
		errorMsg = "Service shutting down"
	case errors.Is(err, core.ErrRelayDisconnected):
		statusCode = http.StatusBadGateway
		errorMsg = "Relay disconnected"
	case errors.Is(err, core.ErrAuthFailed):
		statusCode = http.StatusBadGateway
	}

	c.JSON(statusCode, gin.H{"error": errorMsg})
}

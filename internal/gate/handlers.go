package gate

import (
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/0xaron/agentdoor/internal/gate/gateerr"
	"github.com/0xaron/agentdoor/pkg/agentcrypto"
)

const challengeEntropyBytes = 32
const tokenEntropyBytes = 32
const registrationIDEntropyBytes = 32
const apiKeyEntropyBytes = 24
const agentIDEntropyBytes = 12

type registerRequest struct {
	AgentName string   `json:"agent_name" binding:"required"`
	PublicKey string   `json:"public_key" binding:"required"`
	Scopes    []string `json:"scopes"`
}

type registerResponse struct {
	RegistrationID string `json:"registration_id"`
	Challenge      string `json:"challenge"`
}

type verifyRequest struct {
	RegistrationID string `json:"registration_id" binding:"required"`
	Challenge      string `json:"challenge" binding:"required"`
	Signature      string `json:"signature" binding:"required"`
}

type verifyResponse struct {
	AgentID string `json:"agent_id"`
	APIKey  string `json:"api_key"`
}

type authRequest struct {
	AgentID   string `json:"agent_id" binding:"required"`
	APIKey    string `json:"api_key" binding:"required"`
	Timestamp string `json:"timestamp" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

type authResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
}

type errorBody struct {
	Detail string `json:"detail"`
}

// respondError writes a gateerr.Error (or a generic InvalidRequest if err
// is not one) as {"detail": ...} with the mapped HTTP status.
func respondError(c *gin.Context, err error) {
	if gerr, ok := err.(*gateerr.Error); ok {
		c.JSON(gerr.Status(), errorBody{Detail: gerr.Message})
		return
	}
	c.JSON(http.StatusBadRequest, errorBody{Detail: "invalid request"})
}

func (g *Gate) handleDiscovery(c *gin.Context) {
	c.JSON(http.StatusOK, g.discoveryDocument())
}

func (g *Gate) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, gateerr.New(gateerr.InvalidRequest, "malformed request body"))
		return
	}

	if whitelist := g.cfg.scopeWhitelist(); whitelist != nil {
		var unknown []string
		for _, s := range req.Scopes {
			if _, ok := whitelist[s]; !ok {
				unknown = append(unknown, s)
			}
		}
		if len(unknown) > 0 {
			sort.Strings(unknown)
			recordRegistration("invalid_scope")
			respondError(c, gateerr.New(gateerr.InvalidRequest,
				"Invalid scopes: "+strings.Join(unknown, ", ")))
			return
		}
	}

	registrationID, err := agentcrypto.RandomToken("reg_", registrationIDEntropyBytes)
	if err != nil {
		respondError(c, gateerr.New(gateerr.InvalidRequest, "failed to generate registration id"))
		return
	}
	challenge, err := agentcrypto.RandomToken("", challengeEntropyBytes)
	if err != nil {
		respondError(c, gateerr.New(gateerr.InvalidRequest, "failed to generate challenge"))
		return
	}

	pending := PendingRegistration{
		RegistrationID: registrationID,
		AgentName:      req.AgentName,
		PublicKey:      req.PublicKey,
		Challenge:      challenge,
		Scopes:         req.Scopes,
		CreatedAt:      g.cfg.Clock.Now(),
	}
	if err := g.cfg.Store.CreatePendingRegistration(c.Request.Context(), pending); err != nil {
		g.cfg.Logger.Error("create pending registration", zap.Error(err))
		respondError(c, gateerr.New(gateerr.InvalidRequest, "failed to create registration"))
		return
	}

	recordRegistration("ok")
	c.JSON(http.StatusOK, registerResponse{RegistrationID: registrationID, Challenge: challenge})
}

func (g *Gate) handleVerify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, gateerr.New(gateerr.InvalidRequest, "malformed request body"))
		return
	}

	ctx := c.Request.Context()
	pending, err := g.cfg.Store.GetPendingRegistration(ctx, req.RegistrationID)
	if err != nil {
		recordVerification("not_found")
		respondError(c, gateerr.New(gateerr.NotFound, "Registration not found or expired"))
		return
	}

	if req.Challenge != pending.Challenge {
		recordVerification("challenge_mismatch")
		respondError(c, gateerr.New(gateerr.InvalidRequest, "Challenge mismatch"))
		return
	}

	if !agentcrypto.Verify(req.Challenge, req.Signature, pending.PublicKey) {
		recordVerification("bad_signature")
		respondError(c, gateerr.New(gateerr.Unauthorized, "Invalid signature"))
		return
	}

	agentID, err := agentcrypto.RandomToken("agent_", agentIDEntropyBytes)
	if err != nil {
		respondError(c, gateerr.New(gateerr.InvalidRequest, "failed to generate agent id"))
		return
	}
	apiKey, err := agentcrypto.RandomToken("ak_", apiKeyEntropyBytes)
	if err != nil {
		respondError(c, gateerr.New(gateerr.InvalidRequest, "failed to generate api key"))
		return
	}

	agent := AgentRecord{
		AgentID:   agentID,
		AgentName: pending.AgentName,
		PublicKey: pending.PublicKey,
		APIKey:    apiKey,
		Scopes:    pending.Scopes,
		CreatedAt: g.cfg.Clock.Now(),
	}

	if err := g.cfg.Store.CompleteRegistration(ctx, req.RegistrationID, agent); err != nil {
		recordVerification("not_found")
		respondError(c, gateerr.New(gateerr.NotFound, "Registration not found or expired"))
		return
	}

	recordVerification("ok")
	c.JSON(http.StatusOK, verifyResponse{AgentID: agent.AgentID, APIKey: agent.APIKey})
}

func (g *Gate) handleAuth(c *gin.Context) {
	var req authRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, gateerr.New(gateerr.InvalidRequest, "malformed request body"))
		return
	}

	ctx := c.Request.Context()
	agent, err := g.cfg.Store.GetAgent(ctx, req.AgentID)
	if err != nil {
		recordAuth("unknown_agent")
		respondError(c, gateerr.New(gateerr.Unauthorized, "Unknown agent"))
		return
	}

	if !constantTimeEqual(req.APIKey, agent.APIKey) {
		recordAuth("bad_api_key")
		respondError(c, gateerr.New(gateerr.Unauthorized, "Invalid API key"))
		return
	}

	if !agentcrypto.IsTimestampValid(req.Timestamp, int64(g.cfg.MaxTimestampDrift.Seconds()), g.cfg.Clock.Now()) {
		recordAuth("stale_timestamp")
		respondError(c, gateerr.New(gateerr.Unauthorized, "Timestamp outside acceptable range"))
		return
	}

	if !agentcrypto.Verify(req.Timestamp, req.Signature, agent.PublicKey) {
		recordAuth("bad_signature")
		respondError(c, gateerr.New(gateerr.Unauthorized, "Invalid signature"))
		return
	}

	token, err := agentcrypto.RandomToken("agt_", tokenEntropyBytes)
	if err != nil {
		respondError(c, gateerr.New(gateerr.InvalidRequest, "failed to generate token"))
		return
	}

	now := g.cfg.Clock.Now()
	record := TokenRecord{
		Token:     token,
		AgentID:   agent.AgentID,
		ExpiresAt: now.Add(*g.cfg.TokenTTL),
		Scopes:    agent.Scopes,
	}
	if err := g.cfg.Store.StoreToken(ctx, record); err != nil {
		g.cfg.Logger.Error("store token", zap.Error(err))
		respondError(c, gateerr.New(gateerr.InvalidRequest, "failed to issue token"))
		return
	}

	recordAuth("ok")
	c.JSON(http.StatusOK, authResponse{Token: token, ExpiresIn: int64(g.cfg.TokenTTL.Seconds())})
}

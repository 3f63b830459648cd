package handlers

import (
	"context"
	"time"

	"github.com/comunidade-viva/eventos-api/internal/auth"
	"github.com/comunidade-viva/eventos-api/internal/database"
	"github.com/comunidade-viva/eventos-api/internal/models"
	"github.com/danielgtaylor/huma/v2"
	"github.com/rs/zerolog"
)

// APIKeyHandler manages the keys door scanners use for check-in.
type APIKeyHandler struct {
	conn  *database.Conn
	log   zerolog.Logger
	debug bool
}

func NewAPIKeyHandler(conn *database.Conn, log zerolog.Logger, debug bool) *APIKeyHandler {
	return &APIKeyHandler{conn: conn, log: log, debug: debug}
}

type CreateAPIKeyInput struct {
	auth.AuthInput
	Body struct {
		Name      string     `json:"name" minLength:"1" maxLength:"80"`
		ExpiresAt *time.Time `json:"expires_at,omitempty"`
	}
}

type APIKeyResponse struct {
	ID         uint       `json:"id"`
	Name       string     `json:"name"`
	Key        string     `json:"key"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at"`
	LastUsedAt *time.Time `json:"last_used_at"`
}

type CreateAPIKeyOutput struct {
	Body APIKeyResponse
}

func (h *APIKeyHandler) HandleCreate(ctx context.Context, input *CreateAPIKeyInput) (*CreateAPIKeyOutput, error) {
	userID, err := input.Authorize(models.RoleAdmin, models.RoleStaff)
	if err != nil {
		return nil, err
	}
	if input.Body.ExpiresAt != nil && !input.Body.ExpiresAt.After(time.Now()) {
		return nil, huma.Error400BadRequest("expires_at must be in the future")
	}

	key, hash, err := auth.GenerateAPIKey()
	if err != nil {
		return nil, internalError(h.log, h.debug, "Failed to generate key", err)
	}

	apiKey := models.APIKey{
		UserID:    userID,
		KeyHash:   hash,
		Hint:      key[len(key)-4:],
		Name:      input.Body.Name,
		ExpiresAt: input.Body.ExpiresAt,
	}
	if err := h.conn.DB(ctx).Create(&apiKey).Error; err != nil {
		return nil, internalError(h.log, h.debug, "Failed to create API key", err)
	}

	h.log.Info().Uint("user_id", userID).Uint("api_key_id", apiKey.ID).Msg("api key created")

	resp := toAPIKeyResponse(apiKey)
	resp.Key = key
	return &CreateAPIKeyOutput{Body: resp}, nil
}

type ListAPIKeysInput struct {
	auth.AuthInput
}

type ListAPIKeysOutput struct {
	Body []APIKeyResponse
}

func (h *APIKeyHandler) HandleList(ctx context.Context, input *ListAPIKeysInput) (*ListAPIKeysOutput, error) {
	userID, err := input.Authorize(models.RoleAdmin, models.RoleStaff)
	if err != nil {
		return nil, err
	}

	var apiKeys []models.APIKey
	if err := h.conn.DB(ctx).Where("user_id = ?", userID).Order("id ASC").Find(&apiKeys).Error; err != nil {
		return nil, internalError(h.log, h.debug, "Failed to list API keys", err)
	}

	resp := &ListAPIKeysOutput{Body: make([]APIKeyResponse, 0, len(apiKeys))}
	for _, k := range apiKeys {
		resp.Body = append(resp.Body, toAPIKeyResponse(k))
	}
	return resp, nil
}

type DeleteAPIKeyInput struct {
	auth.AuthInput
	ID uint `path:"id"`
}

func (h *APIKeyHandler) HandleDelete(ctx context.Context, input *DeleteAPIKeyInput) (*struct{}, error) {
	userID, err := input.Authorize(models.RoleAdmin, models.RoleStaff)
	if err != nil {
		return nil, err
	}

	res := h.conn.DB(ctx).Where("id = ? AND user_id = ?", input.ID, userID).Delete(&models.APIKey{})
	if res.Error != nil {
		return nil, internalError(h.log, h.debug, "Failed to delete API key", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, huma.Error404NotFound("API key not found")
	}
	return nil, nil
}

func toAPIKeyResponse(k models.APIKey) APIKeyResponse {
	return APIKeyResponse{
		ID:         k.ID,
		Name:       k.Name,
		Key:        "..." + k.Hint,
		CreatedAt:  k.CreatedAt,
		ExpiresAt:  k.ExpiresAt,
		LastUsedAt: k.LastUsedAt,
	}
}

package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/comunidade-viva/eventos-api/internal/auth"
	"github.com/comunidade-viva/eventos-api/internal/database"
	"github.com/comunidade-viva/eventos-api/internal/models"
	"github.com/danielgtaylor/huma/v2"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

type UserHandler struct {
	conn  *database.Conn
	log   zerolog.Logger
	debug bool
}

func NewUserHandler(conn *database.Conn, log zerolog.Logger, debug bool) *UserHandler {
	return &UserHandler{conn: conn, log: log, debug: debug}
}

type ListUsersInput struct {
	auth.AuthInput
}

type ListUsersOutput struct {
	Body []auth.UserResponse
}

func (h *UserHandler) HandleList(ctx context.Context, input *ListUsersInput) (*ListUsersOutput, error) {
	if _, err := input.Authorize(models.RoleAdmin); err != nil {
		return nil, err
	}

	var users []models.User
	if err := h.conn.DB(ctx).Order("name ASC").Find(&users).Error; err != nil {
		return nil, internalError(h.log, h.debug, "Failed to list users", err)
	}

	resp := &ListUsersOutput{Body: make([]auth.UserResponse, 0, len(users))}
	for _, u := range users {
		resp.Body = append(resp.Body, auth.UserResponse{ID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role})
	}
	return resp, nil
}

type CreateUserInput struct {
	auth.AuthInput
	Body struct {
		Name     string `json:"name" minLength:"1" maxLength:"120"`
		Email    string `json:"email" format:"email" maxLength:"254"`
		Password string `json:"password" minLength:"8" maxLength:"72"`
		Role     string `json:"role" enum:"ADMIN,STAFF"`
	}
}

type CreateUserOutput struct {
	Body auth.UserResponse
}

func (h *UserHandler) HandleCreate(ctx context.Context, input *CreateUserInput) (*CreateUserOutput, error) {
	actorID, err := input.Authorize(models.RoleAdmin)
	if err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(input.Body.Password)
	if err != nil {
		return nil, internalError(h.log, h.debug, "Failed to hash password", err)
	}

	user := models.User{
		Name:         strings.TrimSpace(input.Body.Name),
		Email:        strings.ToLower(strings.TrimSpace(input.Body.Email)),
		PasswordHash: hash,
		Role:         input.Body.Role,
	}

	err = h.conn.Do(ctx, func(db *gorm.DB) error {
		var count int64
		if err := db.Model(&models.User{}).Where("email = ?", user.Email).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return gorm.ErrDuplicatedKey
		}
		return db.Create(&user).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, huma.Error409Conflict("A user with this email already exists")
		}
		return nil, internalError(h.log, h.debug, "Failed to create user", err)
	}

	h.log.Info().Uint("user_id", user.ID).Uint("actor_id", actorID).Str("role", user.Role).Msg("user created")
	return &CreateUserOutput{Body: auth.UserResponse{ID: user.ID, Name: user.Name, Email: user.Email, Role: user.Role}}, nil
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/comunidade-viva/eventos-api/internal/config"
	"github.com/comunidade-viva/eventos-api/internal/database"
	"github.com/comunidade-viva/eventos-api/internal/models"
	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	TokenDuration = 24 * time.Hour
	CookieName    = "auth_token"

	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

type AuthHandler struct {
	conn *database.Conn
	cfg  *config.Config
}

func NewAuthHandler(cfg *config.Config, conn *database.Conn) *AuthHandler {
	return &AuthHandler{conn: conn, cfg: cfg}
}

// AuthInput is embedded by operations that need a signed-in user. The
// headers are stripped from client requests and set by JWTMiddleware.
type AuthInput struct {
	UserID   string `header:"X-User-ID" hidden:"true"`
	UserRole string `header:"X-User-Role" hidden:"true"`
}

// Authorize returns the caller's user id. With roles given, the caller must
// hold one of them.
func (in AuthInput) Authorize(roles ...string) (uint, error) {
	id, err := strconv.ParseUint(in.UserID, 10, 64)
	if in.UserID == "" || err != nil || id == 0 {
		return 0, huma.Error401Unauthorized("Unauthorized")
	}
	if len(roles) > 0 && !slices.Contains(roles, in.UserRole) {
		return 0, huma.Error403Forbidden("Forbidden: requires role " + strings.Join(roles, " or "))
	}
	return uint(id), nil
}

func (h *AuthHandler) GenerateToken(userID uint, role string) (string, error) {
	claims := jwt.MapClaims{
		"user_id": userID,
		"role":    role,
		"exp":     time.Now().Add(TokenDuration).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(h.cfg.JWTSecret))
}

// ParseToken validates tokenString and returns its subject, role and expiry.
func (h *AuthHandler) ParseToken(tokenString string) (uint, string, time.Time, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(h.cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return 0, "", time.Time{}, errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, "", time.Time{}, errors.New("invalid token claims")
	}
	userIDFloat, ok := claims["user_id"].(float64)
	if !ok || userIDFloat <= 0 {
		return 0, "", time.Time{}, errors.New("invalid token claims")
	}
	role, _ := claims["role"].(string)

	var exp time.Time
	if e, ok := claims["exp"].(float64); ok {
		exp = time.Unix(int64(e), 0)
	}
	return uint(userIDFloat), role, exp, nil
}

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func sessionCookie(token string) http.Cookie {
	return http.Cookie{
		Name:     CookieName,
		Value:    token,
		Expires:  time.Now().Add(TokenDuration),
		HttpOnly: true,
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
	}
}

type LoginInput struct {
	Body struct {
		Email    string `json:"email" format:"email" doc:"Account email"`
		Password string `json:"password" minLength:"1" doc:"Account password"`
	}
}

type UserResponse struct {
	ID    uint   `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type LoginOutput struct {
	SetCookie http.Cookie `header:"Set-Cookie"`
	Body      struct {
		Token string       `json:"token"`
		User  UserResponse `json:"user"`
	}
}

func (h *AuthHandler) HandleLogin(ctx context.Context, input *LoginInput) (*LoginOutput, error) {
	var user models.User
	err := h.conn.Do(ctx, func(db *gorm.DB) error {
		return db.Where("email = ?", strings.TrimSpace(strings.ToLower(input.Body.Email))).First(&user).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, huma.Error401Unauthorized("Invalid email or password")
		}
		return nil, huma.Error500InternalServerError("Database error")
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Body.Password)) != nil {
		return nil, huma.Error401Unauthorized("Invalid email or password")
	}

	token, err := h.GenerateToken(user.ID, user.Role)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to generate token")
	}

	resp := &LoginOutput{SetCookie: sessionCookie(token)}
	resp.Body.Token = token
	resp.Body.User = toUserResponse(user)
	return resp, nil
}

type MeInput struct {
	AuthInput
}

type MeOutput struct {
	Body UserResponse
}

func (h *AuthHandler) HandleMe(ctx context.Context, input *MeInput) (*MeOutput, error) {
	userID, err := input.Authorize()
	if err != nil {
		return nil, err
	}

	var user models.User
	if err := h.conn.DB(ctx).First(&user, userID).Error; err != nil {
		return nil, huma.Error404NotFound("User not found")
	}

	return &MeOutput{Body: toUserResponse(user)}, nil
}

func toUserResponse(u models.User) UserResponse {
	return UserResponse{ID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role}
}

package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/comunidade-viva/eventos-api/internal/database"
	"github.com/comunidade-viva/eventos-api/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

func TestHandleCreateUser(t *testing.T) {
	db := setupTestDB(t)
	h := NewUserHandler(database.Wrap(db), zerolog.Nop(), false)

	input := &CreateUserInput{AuthInput: adminAuth()}
	input.Body.Name = "João Lima"
	input.Body.Email = "Joao@Example.com"
	input.Body.Password = "porta-principal"
	input.Body.Role = models.RoleStaff

	resp, err := h.HandleCreate(context.Background(), input)
	if err != nil {
		t.Fatalf("HandleCreate returned error: %v", err)
	}
	if resp.Body.Email != "joao@example.com" || resp.Body.Role != models.RoleStaff {
		t.Errorf("unexpected user %+v", resp.Body)
	}

	var user models.User
	db.First(&user, resp.Body.ID)
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("porta-principal")) != nil {
		t.Errorf("expected bcrypt hash of the password")
	}

	t.Run("Duplicate", func(t *testing.T) {
		input.Body.Email = "JOAO@example.com"
		_, err := h.HandleCreate(context.Background(), input)
		if statusOf(err) != http.StatusConflict {
			t.Fatalf("expected 409, got %v", err)
		}
	})

	t.Run("StaffForbidden", func(t *testing.T) {
		input.AuthInput = staffAuth()
		input.Body.Email = "outro@example.com"
		_, err := h.HandleCreate(context.Background(), input)
		if statusOf(err) != http.StatusForbidden {
			t.Fatalf("expected 403, got %v", err)
		}
	})

	t.Run("List", func(t *testing.T) {
		list, err := h.HandleList(context.Background(), &ListUsersInput{AuthInput: adminAuth()})
		if err != nil {
			t.Fatalf("HandleList returned error: %v", err)
		}
		if len(list.Body) != 1 {
			t.Errorf("expected 1 user, got %d", len(list.Body))
		}
	})
}

package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/careline/careline-server/internal/core"
	"github.com/careline/careline-server/internal/store"
)

// UserHandlers provides the counterpart listing endpoints.
type UserHandlers struct {
	users store.UserStore
	log   *zerolog.Logger
}

// NewUserHandlers creates a new user handlers instance.
func NewUserHandlers(users store.UserStore, logger *zerolog.Logger) *UserHandlers {
	return &UserHandlers{
		users: users,
		log:   logger,
	}
}

// UserResponse represents a counterpart candidate in API responses.
type UserResponse struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"display_name"`
}

// ListDoctors lists registered doctors.
// GET /api/users/doctors
func (h *UserHandlers) ListDoctors(c *gin.Context) {
	h.listByRole(c, core.RoleDoctor)
}

// ListPatients lists registered patients. Doctor callers only.
// GET /api/users/patients
func (h *UserHandlers) ListPatients(c *gin.Context) {
	_, role, ok := caller(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	if role != core.RoleDoctor {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "only doctors can list patients"})
		return
	}
	h.listByRole(c, core.RolePatient)
}

func (h *UserHandlers) listByRole(c *gin.Context, role core.Role) {
	users, err := h.users.ListUsersByRole(c.Request.Context(), role)
	if err != nil {
		h.log.Error().Err(err).Str("role", string(role)).Msg("failed to list users")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	response := make([]UserResponse, 0, len(users))
	for _, u := range users {
		response = append(response, UserResponse{
			ID:          u.ID,
			DisplayName: u.DisplayName,
		})
	}

	c.JSON(http.StatusOK, response)
}

package rest

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ken-lyk/qrkeeper/internal/common"
	"github.com/ken-lyk/qrkeeper/internal/server/models"
	"github.com/ken-lyk/qrkeeper/internal/server/services"
)

type registerRequest struct {
	Name     string `json:"name" validate:"required,max=200"`
	Email    string `json:"email" validate:"required,email,max=320"`
	Password string `json:"password" validate:"required,max=72"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// qrRequest serves both the direct-value and the base64 image routes; for
// the latter Data holds the encoded image. Source is accepted and ignored.
type qrRequest struct {
	Path   string `json:"path" validate:"max=1024"`
	Data   string `json:"data"`
	Source string `json:"source,omitempty"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func newTokenResponse(t *services.AccessToken) tokenResponse {
	return tokenResponse{
		AccessToken: t.Token,
		TokenType:   t.TokenType,
		ExpiresIn:   int64(t.ExpiresIn / time.Second),
	}
}

type userResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newUserResponse(u *models.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Role:      u.Role.String(),
		Enabled:   u.Enabled,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

type qrResponse struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Data      string    `json:"data"`
	Source    string    `json:"source"`
	UserID    string    `json:"user_id"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newQRResponse(r *models.QRRecord) qrResponse {
	return qrResponse{
		ID:        r.ID,
		Path:      r.Path,
		Data:      r.Data,
		Source:    r.Origin.String(),
		UserID:    r.OwnerID,
		Enabled:   r.Enabled,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// validationError flattens validator output into an ErrorValidation.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("%w: field %s failed on %q", common.ErrorValidation, fe.Field(), fe.Tag())
	}
	return fmt.Errorf("%w: %v", common.ErrorValidation, err)
}

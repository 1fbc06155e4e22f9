package v1

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/reveriehq/reverie/ai/routing"
	"github.com/reveriehq/reverie/internal/profile"
	"github.com/reveriehq/reverie/server/auth"
	"github.com/reveriehq/reverie/store"
)

const minimumAge = 18

// AuthService covers identity concerns: token minting, API keys, and the
// one-time age verification.
type AuthService struct {
	Store    *store.Store
	Profile  *profile.Profile
	Signer   *auth.Signer
	Sessions *routing.SessionManager
}

type verifyAgeBody struct {
	// DateOfBirth in YYYY-MM-DD.
	DateOfBirth string `json:"date_of_birth"`
}

// VerifyAge records a user's one-time age verification. It is the only way
// to unlock age-restricted routes; chat text never does.
func (s *AuthService) VerifyAge(c echo.Context) error {
	user, err := requireUser(c, s.Store)
	if err != nil {
		return err
	}

	var body verifyAgeBody
	if err := c.Bind(&body); err != nil {
		return badRequest("invalid request body")
	}
	dob, err := time.Parse("2006-01-02", strings.TrimSpace(body.DateOfBirth))
	if err != nil {
		return badRequest("date_of_birth must be YYYY-MM-DD")
	}
	if age(dob, time.Now()) < minimumAge {
		return echo.NewHTTPError(http.StatusForbidden, "age verification requires being 18 or older")
	}

	if !user.AgeVerified() {
		now := time.Now().Unix()
		user, err = s.Store.UpdateUser(c.Request().Context(), &store.UpdateUser{
			ID:            user.ID,
			AgeVerifiedTs: &now,
		})
		if err != nil {
			return internalError("failed to record age verification")
		}
	}
	if s.Sessions != nil {
		s.Sessions.MarkUserAgeVerified(user.ID)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"age_verified":    true,
		"age_verified_ts": user.AgeVerifiedTs,
	})
}

func age(dob, now time.Time) int {
	years := now.Year() - dob.Year()
	if now.YearDay() < dob.YearDay() {
		years--
	}
	return years
}

// Me returns the authenticated user's own record.
func (s *AuthService) Me(c echo.Context) error {
	user, err := requireUser(c, s.Store)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"external_id":     user.ExternalID,
		"age_verified":    user.AgeVerified(),
		"age_verified_ts": user.AgeVerifiedTs,
		"created_ts":      user.CreatedTs,
	})
}

type mintTokenBody struct {
	UserID string `json:"user_id"`
}

// MintToken issues a JWT for an external user id. There is no password
// layer; identity arrives from the deployment's upstream gateway, so open
// minting is a development convenience only.
func (s *AuthService) MintToken(c echo.Context) error {
	if !s.Profile.IsDev() {
		return notFound()
	}

	var body mintTokenBody
	if err := c.Bind(&body); err != nil {
		return badRequest("invalid request body")
	}
	body.UserID = strings.TrimSpace(body.UserID)
	if body.UserID == "" {
		return badRequest("user_id is required")
	}

	token, expiresAt, err := s.Signer.Mint(body.UserID)
	if err != nil {
		return internalError("failed to mint token")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"token":      token,
		"expires_at": expiresAt.Unix(),
	})
}

type createAPIKeyBody struct {
	Name string `json:"name"`
}

type apiKeyPayload struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	CreatedTs  int64  `json:"created_ts"`
	LastUsedTs int64  `json:"last_used_ts,omitempty"`
	// Key is the plaintext, present only in the create response.
	Key string `json:"key,omitempty"`
}

// CreateAPIKey mints a key and returns the plaintext once; only the bcrypt
// hash is stored.
func (s *AuthService) CreateAPIKey(c echo.Context) error {
	user, err := requireUser(c, s.Store)
	if err != nil {
		return err
	}

	var body createAPIKeyBody
	if err := c.Bind(&body); err != nil {
		return badRequest("invalid request body")
	}
	body.Name = strings.TrimSpace(body.Name)
	if body.Name == "" {
		body.Name = "default"
	}

	plaintext, hash, err := auth.GenerateAPIKey(user.ExternalID)
	if err != nil {
		return internalError("failed to generate key")
	}
	key, err := s.Store.CreateAPIKey(c.Request().Context(), &store.APIKey{
		ID:         uuid.NewString(),
		UserID:     user.ID,
		Name:       body.Name,
		SecretHash: hash,
	})
	if err != nil {
		return internalError("failed to store key")
	}
	return c.JSON(http.StatusCreated, &apiKeyPayload{
		ID:        key.ID,
		Name:      key.Name,
		CreatedTs: key.CreatedTs,
		Key:       plaintext,
	})
}

func (s *AuthService) ListAPIKeys(c echo.Context) error {
	user, err := requireUser(c, s.Store)
	if err != nil {
		return err
	}
	keys, err := s.Store.ListAPIKeys(c.Request().Context(), &store.FindAPIKey{UserID: &user.ID})
	if err != nil {
		return internalError("failed to list keys")
	}
	payloads := make([]*apiKeyPayload, 0, len(keys))
	for _, key := range keys {
		payloads = append(payloads, &apiKeyPayload{
			ID:         key.ID,
			Name:       key.Name,
			CreatedTs:  key.CreatedTs,
			LastUsedTs: key.LastUsedTs,
		})
	}
	return c.JSON(http.StatusOK, payloads)
}

func (s *AuthService) RevokeAPIKey(c echo.Context) error {
	user, err := requireUser(c, s.Store)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	id := c.Param("id")
	keys, err := s.Store.ListAPIKeys(ctx, &store.FindAPIKey{UserID: &user.ID, IncludeRevoked: true})
	if err != nil {
		return internalError("failed to list keys")
	}
	for _, key := range keys {
		if key.ID != id {
			continue
		}
		if !key.Revoked() {
			now := time.Now().Unix()
			if _, err := s.Store.UpdateAPIKey(ctx, &store.UpdateAPIKey{ID: key.ID, RevokedTs: &now}); err != nil {
				return internalError("failed to revoke key")
			}
		}
		return c.NoContent(http.StatusNoContent)
	}
	return notFound()
}

package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/reveriehq/reverie/store"
)

// PreferenceService exposes the hard-enforced communication preferences.
type PreferenceService struct {
	Store *store.Store
}

type preferencesPayload struct {
	Language         string `json:"language,omitempty"`
	Formality        string `json:"formality,omitempty"`
	Tone             string `json:"tone,omitempty"`
	EmojiUsage       string `json:"emoji_usage,omitempty"`
	ResponseLength   string `json:"response_length,omitempty"`
	ExplanationStyle string `json:"explanation_style,omitempty"`
	UpdatedTs        int64  `json:"updated_ts,omitempty"`
}

func preferencesToPayload(p *store.UserPreferences) *preferencesPayload {
	if p == nil {
		return &preferencesPayload{}
	}
	return &preferencesPayload{
		Language:         p.Language,
		Formality:        p.Formality,
		Tone:             p.Tone,
		EmojiUsage:       p.EmojiUsage,
		ResponseLength:   p.ResponseLength,
		ExplanationStyle: p.ExplanationStyle,
		UpdatedTs:        p.UpdatedTs,
	}
}

func (s *PreferenceService) Get(c echo.Context) error {
	user, err := requireUser(c, s.Store)
	if err != nil {
		return err
	}
	prefs, err := s.Store.GetUserPreferences(c.Request().Context(), &store.FindUserPreferences{UserID: user.ID})
	if err != nil {
		return internalError("failed to load preferences")
	}
	return c.JSON(http.StatusOK, preferencesToPayload(prefs))
}

// Update merges the fields present in the body; omitted fields keep their
// stored value.
func (s *PreferenceService) Update(c echo.Context) error {
	user, err := requireUser(c, s.Store)
	if err != nil {
		return err
	}

	var body preferencesPayload
	if err := c.Bind(&body); err != nil {
		return badRequest("invalid request body")
	}

	upsert := &store.UpsertUserPreferences{UserID: user.ID}
	if body.Language != "" {
		upsert.Language = &body.Language
	}
	if body.Formality != "" {
		upsert.Formality = &body.Formality
	}
	if body.Tone != "" {
		upsert.Tone = &body.Tone
	}
	if body.EmojiUsage != "" {
		upsert.EmojiUsage = &body.EmojiUsage
	}
	if body.ResponseLength != "" {
		upsert.ResponseLength = &body.ResponseLength
	}
	if body.ExplanationStyle != "" {
		upsert.ExplanationStyle = &body.ExplanationStyle
	}
	if upsert.Empty() {
		return badRequest("no preference fields provided")
	}

	prefs, err := s.Store.UpsertUserPreferences(c.Request().Context(), upsert)
	if err != nil {
		return internalError("failed to update preferences")
	}
	return c.JSON(http.StatusOK, preferencesToPayload(prefs))
}

func (s *PreferenceService) Clear(c echo.Context) error {
	user, err := requireUser(c, s.Store)
	if err != nil {
		return err
	}
	if err := s.Store.DeleteUserPreferences(c.Request().Context(), user.ID); err != nil {
		return internalError("failed to clear preferences")
	}
	return c.NoContent(http.StatusNoContent)
}

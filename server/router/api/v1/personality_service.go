package v1

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/reveriehq/reverie/ai/persona"
	"github.com/reveriehq/reverie/store"
)

// PersonalityService manages persona definitions. Users see their own
// personalities plus the global set; only owners can modify theirs.
type PersonalityService struct {
	Store    *store.Store
	Personas *persona.Manager
}

type personalityPayload struct {
	ID                 string                      `json:"id,omitempty"`
	Name               string                      `json:"name"`
	Archetype          string                      `json:"archetype,omitempty"`
	RelationshipType   string                      `json:"relationship_type,omitempty"`
	Traits             *store.PersonalityTraits    `json:"traits,omitempty"`
	Behaviors          *store.PersonalityBehaviors `json:"behaviors,omitempty"`
	Backstory          string                      `json:"backstory,omitempty"`
	CustomInstructions string                      `json:"custom_instructions,omitempty"`
	SpeakingStyle      string                      `json:"speaking_style,omitempty"`
	Global             bool                        `json:"global"`
	Version            int32                       `json:"version,omitempty"`
}

func personalityToPayload(p *store.Personality, global bool) *personalityPayload {
	return &personalityPayload{
		ID:                 p.ID,
		Name:               p.Name,
		Archetype:          p.Archetype,
		RelationshipType:   p.RelationshipType,
		Traits:             &p.Traits,
		Behaviors:          &p.Behaviors,
		Backstory:          p.Backstory,
		CustomInstructions: p.CustomInstructions,
		SpeakingStyle:      p.SpeakingStyle,
		Global:             global,
		Version:            p.Version,
	}
}

func (s *PersonalityService) Create(c echo.Context) error {
	user, err := requireUser(c, s.Store)
	if err != nil {
		return err
	}

	var body personalityPayload
	if err := c.Bind(&body); err != nil {
		return badRequest("invalid request body")
	}
	body.Name = strings.TrimSpace(body.Name)
	if body.Name == "" {
		return badRequest("name is required")
	}

	existing, err := s.Store.ListPersonalities(c.Request().Context(), &store.FindPersonality{
		OwnerUserID: &user.ID,
		Name:        &body.Name,
	})
	if err != nil {
		return internalError("failed to check existing personalities")
	}
	if len(existing) > 0 {
		return echo.NewHTTPError(http.StatusConflict, "personality with this name already exists")
	}

	create := &store.Personality{
		OwnerUserID:        user.ID,
		Name:               body.Name,
		Archetype:          body.Archetype,
		RelationshipType:   body.RelationshipType,
		Backstory:          body.Backstory,
		CustomInstructions: body.CustomInstructions,
		SpeakingStyle:      body.SpeakingStyle,
	}
	if body.Traits != nil {
		create.Traits = *body.Traits
	}
	if body.Behaviors != nil {
		create.Behaviors = *body.Behaviors
	}

	personality, err := s.Personas.Create(c.Request().Context(), create)
	if err != nil {
		return internalError("failed to create personality")
	}
	return c.JSON(http.StatusCreated, personalityToPayload(personality, false))
}

func (s *PersonalityService) List(c echo.Context) error {
	user, err := requireUser(c, s.Store)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	systemUserID, err := s.Store.SystemUserID(ctx)
	if err != nil {
		return internalError("failed to resolve system user")
	}

	own, err := s.Store.ListPersonalities(ctx, &store.FindPersonality{OwnerUserID: &user.ID})
	if err != nil {
		return internalError("failed to list personalities")
	}
	globals, err := s.Store.ListPersonalities(ctx, &store.FindPersonality{OwnerUserID: &systemUserID})
	if err != nil {
		return internalError("failed to list personalities")
	}

	// Own personalities shadow globals with the same name.
	shadowed := make(map[string]bool, len(own))
	payloads := make([]*personalityPayload, 0, len(own)+len(globals))
	for _, p := range own {
		shadowed[p.Name] = true
		payloads = append(payloads, personalityToPayload(p, false))
	}
	for _, p := range globals {
		if !shadowed[p.Name] {
			payloads = append(payloads, personalityToPayload(p, true))
		}
	}
	return c.JSON(http.StatusOK, payloads)
}

func (s *PersonalityService) Get(c echo.Context) error {
	personality, global, err := s.visible(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, personalityToPayload(personality, global))
}

func (s *PersonalityService) Update(c echo.Context) error {
	personality, global, err := s.visible(c)
	if err != nil {
		return err
	}
	if global {
		// Globals are operator-managed; users fork by creating their own.
		return notFound()
	}

	var body personalityPayload
	if err := c.Bind(&body); err != nil {
		return badRequest("invalid request body")
	}

	update := &store.UpdatePersonality{ID: personality.ID}
	if body.Archetype != "" {
		update.Archetype = &body.Archetype
	}
	if body.RelationshipType != "" {
		update.RelationshipType = &body.RelationshipType
	}
	if body.Traits != nil {
		update.Traits = body.Traits
	}
	if body.Behaviors != nil {
		update.Behaviors = body.Behaviors
	}
	if body.Backstory != "" {
		update.Backstory = &body.Backstory
	}
	if body.CustomInstructions != "" {
		update.CustomInstructions = &body.CustomInstructions
	}
	if body.SpeakingStyle != "" {
		update.SpeakingStyle = &body.SpeakingStyle
	}

	updated, err := s.Personas.Update(c.Request().Context(), update)
	if err != nil {
		return internalError("failed to update personality")
	}
	return c.JSON(http.StatusOK, personalityToPayload(updated, false))
}

func (s *PersonalityService) Delete(c echo.Context) error {
	personality, global, err := s.visible(c)
	if err != nil {
		return err
	}
	if global {
		return notFound()
	}
	if err := s.Personas.Delete(c.Request().Context(), personality); err != nil {
		return internalError("failed to delete personality")
	}
	return c.NoContent(http.StatusNoContent)
}

// visible loads the personality at :id if the caller may see it: their own
// or a global one. Anything else reads as missing.
func (s *PersonalityService) visible(c echo.Context) (*store.Personality, bool, error) {
	user, err := requireUser(c, s.Store)
	if err != nil {
		return nil, false, err
	}
	ctx := c.Request().Context()

	personality, err := s.Personas.Get(ctx, c.Param("id"))
	if err != nil {
		return nil, false, internalError("failed to load personality")
	}
	if personality == nil {
		return nil, false, notFound()
	}
	if personality.OwnerUserID == user.ID {
		return personality, false, nil
	}
	systemUserID, err := s.Store.SystemUserID(ctx)
	if err != nil {
		return nil, false, internalError("failed to resolve system user")
	}
	if personality.OwnerUserID == systemUserID {
		return personality, true, nil
	}
	return nil, false, notFound()
}

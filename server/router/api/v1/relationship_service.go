package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/reveriehq/reverie/ai/persona"
	"github.com/reveriehq/reverie/store"
)

// RelationshipService reads the accumulated closeness between the user and
// one personality.
type RelationshipService struct {
	Store    *store.Store
	Personas *persona.Manager
}

type relationshipPayload struct {
	PersonalityID      string   `json:"personality_id"`
	PersonalityName    string   `json:"personality_name"`
	TotalMessages      int64    `json:"total_messages"`
	DepthScore         float64  `json:"depth_score"`
	TrustLevel         float64  `json:"trust_level"`
	DaysKnown          int      `json:"days_known"`
	Milestones         []string `json:"milestones,omitempty"`
	FirstInteractionTs int64    `json:"first_interaction_ts,omitempty"`
	LastInteractionTs  int64    `json:"last_interaction_ts,omitempty"`
}

// Get handles GET /relationships/:personality, addressed by personality
// name. A personality the user has never talked to yields zeros.
func (s *RelationshipService) Get(c echo.Context) error {
	user, err := requireUser(c, s.Store)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	personality, err := s.Personas.Resolve(ctx, user.ID, c.Param("personality"))
	if err != nil {
		return internalError("failed to resolve personality")
	}
	if personality == nil {
		return notFound()
	}

	relationship, err := s.Store.GetRelationship(ctx, user.ID, personality.ID)
	if err != nil {
		return internalError("failed to load relationship")
	}

	payload := &relationshipPayload{
		PersonalityID:   personality.ID,
		PersonalityName: personality.Name,
	}
	if relationship != nil {
		payload.TotalMessages = relationship.TotalMessages
		payload.DepthScore = relationship.DepthScore
		payload.TrustLevel = relationship.TrustLevel
		payload.DaysKnown = relationship.DaysKnown()
		payload.Milestones = relationship.Milestones
		payload.FirstInteractionTs = relationship.FirstInteractionTs
		payload.LastInteractionTs = relationship.LastInteractionTs
	}
	return c.JSON(http.StatusOK, payload)
}

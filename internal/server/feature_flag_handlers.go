package server

import "github.com/gofiber/fiber/v2"

// FeatureFlagsResponse shows configured flags and their state for the caller.
type FeatureFlagsResponse struct {
	Raw       map[string]string `json:"raw"`
	Evaluated map[string]bool   `json:"evaluated"`
}

// GetFeatureFlags handles GET /api/admin/feature-flags
// @Summary Feature flags
// @Tags admin
// @Produce json
// @Success 200 {object} FeatureFlagsResponse
// @Failure 403 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /admin/feature-flags [get]
func (s *Server) GetFeatureFlags(c *fiber.Ctx) error {
	if s.featureFlags == nil {
		return c.JSON(FeatureFlagsResponse{
			Raw:       map[string]string{},
			Evaluated: map[string]bool{},
		})
	}

	return c.JSON(FeatureFlagsResponse{
		Raw:       s.featureFlags.Raw(),
		Evaluated: s.featureFlags.Snapshot(userID(c)),
	})
}

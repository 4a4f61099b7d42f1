package entitlement

// Surface is a piece of content or functionality guarded by the Gate.
type Surface string

const (
	SurfacePremiumItinerary Surface = "premium_itinerary"
	SurfaceAIAssistant      Surface = "ai_assistant"
	SurfaceOfflineFeatures  Surface = "offline_features"
	SurfaceAdmin            Surface = "admin"
)

// Surfaces lists every known surface.
func Surfaces() []Surface {
	return []Surface{SurfacePremiumItinerary, SurfaceAIAssistant, SurfaceOfflineFeatures, SurfaceAdmin}
}

// Valid reports whether s is a known surface.
func (s Surface) Valid() bool {
	switch s {
	case SurfacePremiumItinerary, SurfaceAIAssistant, SurfaceOfflineFeatures, SurfaceAdmin:
		return true
	}
	return false
}

func (s Surface) adminOnly() bool { return s == SurfaceAdmin }

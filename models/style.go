package models

type VisualStyle struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

const CustomStyleID = "custom"

var VisualStyles = []VisualStyle{
	{ID: "cinematic", Name: "Cinematic", Description: "High contrast, dramatic lighting, anamorphic lenses"},
	{ID: "anime", Name: "Anime", Description: "Modern Japanese animation style, vibrant line art"},
	{ID: "noir", Name: "Film Noir", Description: "B&W, high contrast, moody shadows, chiaroscuro"},
	{ID: "cyberpunk", Name: "Cyberpunk", Description: "Neon lights, futuristic, rainy streets, high-tech low-life"},
	{ID: "sketch", Name: "Sketch", Description: "Traditional hand-drawn storyboard, charcoal and graphite"},
	{ID: "3d-render", Name: "3D Render", Description: "Unreal Engine 5, Octane render, raytracing, photorealistic"},
	{ID: CustomStyleID, Name: "Custom", Description: "Describe your own style"},
}

// ResolveStyle 未知 id 视为自由文本风格
func ResolveStyle(id string) VisualStyle {
	for _, s := range VisualStyles {
		if s.ID == id {
			return s
		}
	}
	return VisualStyle{ID: id, Name: "Custom Style", Description: id}
}

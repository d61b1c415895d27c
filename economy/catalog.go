package economy

// Animation is one purchasable catalog item. The catalog is static and
// read-only at runtime; prices are in chat gems.
type Animation struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"` // message | avatar
	Price       int64  `json:"price"`
	Description string `json:"description"`
	PreviewRef  string `json:"preview_ref"`
}

var catalog = []Animation{
	{
		ID:          "sparkle-message",
		Name:        "Sparkle Message",
		Type:        "message",
		Price:       50,
		Description: "Your messages arrive in a shower of sparkles.",
		PreviewRef:  "animations/sparkle-message.webm",
	},
	{
		ID:          "confetti-burst",
		Name:        "Confetti Burst",
		Type:        "message",
		Price:       60,
		Description: "A confetti explosion on message delivery.",
		PreviewRef:  "animations/confetti-burst.webm",
	},
	{
		ID:          "rainbow-trail",
		Name:        "Rainbow Trail",
		Type:        "message",
		Price:       75,
		Description: "Messages slide in trailing a rainbow.",
		PreviewRef:  "animations/rainbow-trail.webm",
	},
	{
		ID:          "online-3d",
		Name:        "3D Online Avatar",
		Type:        "avatar",
		Price:       100,
		Description: "An animated 3D avatar shown while you are online.",
		PreviewRef:  "animations/online-3d.webm",
	},
	{
		ID:          "idle-3d",
		Name:        "3D Idle Avatar",
		Type:        "avatar",
		Price:       100,
		Description: "An animated 3D avatar shown while you are idle.",
		PreviewRef:  "animations/idle-3d.webm",
	},
}

// Catalog returns every purchasable animation in display order.
func Catalog() []Animation {
	out := make([]Animation, len(catalog))
	copy(out, catalog)
	return out
}

// Item looks an animation up by id.
func Item(id string) (Animation, bool) {
	for _, a := range catalog {
		if a.ID == id {
			return a, true
		}
	}
	return Animation{}, false
}

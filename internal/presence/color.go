package presence

import "hash/fnv"

// palette is the fixed set of collaborator colors. Kept small so colors
// stay distinguishable; collisions between users are acceptable.
var palette = []string{
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#96CEB4",
	"#FFEAA7", "#DDA0DD", "#98D8C8", "#F7DC6F",
}

// ColorFor deterministically assigns a palette color to a user id. Every
// peer computes the same color for a given user without any shared
// join-order state.
func ColorFor(userID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return palette[int(h.Sum32()%uint32(len(palette)))]
}

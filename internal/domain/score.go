package domain

import "math"

const (
	followersCap = 50.0
	favoritesCap = 30.0
	repostsCap   = 20.0

	MaxImportanceScore = followersCap + favoritesCap + repostsCap
)

// ImportanceScore derives a 0..100 score from author reach and engagement.
// No single signal can contribute more than its cap.
func ImportanceScore(followers, favorites, reposts int64) float64 {
	return capped(followers, 1000, followersCap) +
		capped(favorites, 10, favoritesCap) +
		capped(reposts, 5, repostsCap)
}

func capped(v int64, div, limit float64) float64 {
	if v <= 0 {
		return 0
	}
	return math.Min(float64(v)/div, limit)
}

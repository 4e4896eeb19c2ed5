package auth

import (
	"math/rand/v2"

	"github.com/projectsentinel/sentineld/internal/domain"
)

var challengeDirections = []domain.Direction{
	domain.DirLeft, domain.DirRight, domain.DirUp, domain.DirDown,
}

// randomDirection picks the head-pose direction for a new liveness
// challenge. Randomization is what prevents a replayed recording of a
// past successful challenge from succeeding again.
func randomDirection() domain.Direction {
	return challengeDirections[rand.IntN(len(challengeDirections))]
}

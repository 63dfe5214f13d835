// Package scoring computes points for answered questions. It is pure: no
// state, no side effects, same inputs always produce the same output.
package scoring

import (
	"math"
	"time"

	"quizparty-service/internal/domain"
)

// Score maps an answer outcome to points earned.
//
// Incorrect answers (and timeouts, which callers submit as incorrect) earn 0.
// Correct answers earn basePoints plus a speed bonus proportional to how much
// of the time limit was left, optionally scaled by a streak multiplier using
// the streak value before this answer's increment.
//
// A negative response time or non-positive time limit is a contract violation
// and is rejected with ErrInvalidInput rather than coerced.
func Score(correct bool, responseTime, timeLimit time.Duration, rules domain.ScoringRules, currentStreak int) (int, error) {
	if responseTime < 0 || timeLimit <= 0 {
		return 0, domain.ErrInvalidInput
	}
	if !correct {
		return 0, nil
	}

	ratio := float64(timeLimit-responseTime) / float64(timeLimit)
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}

	points := rules.BasePoints + int(math.Floor(ratio*float64(rules.MaxSpeedBonus)))

	if rules.StreakEnabled && currentStreak >= 2 {
		mult := 1 + float64(currentStreak-1)*(rules.StreakFactor-1)
		if rules.MaxStreakMultiplier > 0 && mult > rules.MaxStreakMultiplier {
			mult = rules.MaxStreakMultiplier
		}
		if mult > 1 {
			points = int(math.Floor(float64(points) * mult))
		}
	}
	return points, nil
}

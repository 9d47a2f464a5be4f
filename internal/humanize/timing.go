package humanize

import (
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
)

// Complexity scales the simulated typing time.
type Complexity int

// Complexity levels.
const (
	ComplexitySimple Complexity = iota
	ComplexityModerate
	ComplexityComplex
)

// Typing delay bounds, before the reading-time offset is added.
const (
	MinTypingDelay = 1 * time.Second
	MaxTypingDelay = 8 * time.Second

	minCharDelay = 30 * time.Millisecond
	maxCharDelay = 50 * time.Millisecond
	jitter       = 0.2

	minReadingTime = 300 * time.Millisecond
	maxReadingTime = 800 * time.Millisecond

	// Messages shorter than this only sometimes show a typing indicator.
	shortMessageLength   = 30
	shortIndicatorChance = 0.7
)

func (c Complexity) multiplier() float64 {
	switch c {
	case ComplexityModerate:
		return 1.2
	case ComplexityComplex:
		return 1.5
	default:
		return 1.0
	}
}

// ComplexityOf estimates how hard text would be to type out.
func ComplexityOf(text string) Complexity {
	n := len([]rune(text))
	lines := strings.Count(text, "\n")
	switch {
	case n > 300 || lines >= 4:
		return ComplexityComplex
	case n > 100 || lines >= 2:
		return ComplexityModerate
	default:
		return ComplexitySimple
	}
}

// Timing simulates a person typing. Safe for concurrent use.
type Timing struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewTiming creates a Timing drawing from rng. A nil rng uses a time-seeded source.
func NewTiming(rng *rand.Rand) *Timing {
	if rng == nil {
		seed := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(seed, seed>>1|1))
	}
	return &Timing{rng: rng}
}

func (t *Timing) float64() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rng.Float64()
}

func (t *Timing) intN(n int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rng.IntN(n)
}

// between returns a uniformly random duration in [lo, hi].
func (t *Timing) between(lo, hi time.Duration) time.Duration {
	return lo + time.Duration(t.float64()*float64(hi-lo))
}

// CalculateTypingDelay returns how long a person would take to type length
// characters: 30-50ms per character scaled by complexity, jittered by ±20%,
// clamped to [1s, 8s], plus a 0.3-0.8s reading offset.
func (t *Timing) CalculateTypingDelay(length int, complexity Complexity) time.Duration {
	if length < 0 {
		length = 0
	}
	perChar := t.between(minCharDelay, maxCharDelay)
	typing := float64(perChar) * float64(length) * complexity.multiplier()
	typing *= 1 - jitter + 2*jitter*t.float64()

	// Clamp before converting; a huge length overflows time.Duration.
	typing = math.Min(math.Max(typing, float64(MinTypingDelay)), float64(MaxTypingDelay))
	return time.Duration(typing) + t.ReadingTime()
}

// ReadingTime is the pause before a person starts typing.
func (t *Timing) ReadingTime() time.Duration {
	return t.between(minReadingTime, maxReadingTime)
}

// ShouldShowTypingIndicator is random for short messages and always true otherwise.
func (t *Timing) ShouldShowTypingIndicator(length int) bool {
	if length < shortMessageLength {
		return t.float64() < shortIndicatorChance
	}
	return true
}

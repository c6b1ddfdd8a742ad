// Package pick selects one option out of a fixed set. Random selection is
// injectable so decorative choices stay reproducible in tests.
package pick

import (
	"math/rand"
	"sync"
	"time"
)

type Picker interface {
	Pick(options []string) string
}

type randomPicker struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandom returns a uniform picker. A zero seed seeds from the clock.
func NewRandom(seed int64) Picker {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &randomPicker{rng: rand.New(rand.NewSource(seed))}
}

func (p *randomPicker) Pick(options []string) string {
	if len(options) == 0 {
		return ""
	}
	p.mu.Lock()
	i := p.rng.Intn(len(options))
	p.mu.Unlock()
	return options[i]
}

// Fixed always picks options[i mod len(options)].
type Fixed int

func (f Fixed) Pick(options []string) string {
	if len(options) == 0 {
		return ""
	}
	i := int(f) % len(options)
	if i < 0 {
		i += len(options)
	}
	return options[i]
}

package attribution

import (
	"errors"
	"math/rand"
	"sync"

	"github.com/velto/linkpage/internal/models"
)

// ErrConfiguration reports an internally inconsistent link: A/B testing
// enabled with no variants on record. Callers degrade to the base link and
// log; the redirect never depends on this error.
var ErrConfiguration = errors.New("a/b testing enabled with no variants")

// Rand is the random source injected into selection. *math/rand.Rand
// satisfies it; tests substitute fixed sequences.
type Rand interface {
	Intn(n int) int
}

// lockedRand guards a rand.Rand for concurrent use on the click path.
type lockedRand struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func (l *lockedRand) Intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rng.Intn(n)
}

// NewLockedRand returns a goroutine-safe Rand seeded with seed.
func NewLockedRand(seed int64) Rand {
	return &lockedRand{rng: rand.New(rand.NewSource(seed))}
}

// Selection is the resolved target for one request. VariantID is empty when
// no variant selection occurred and the base link was used.
type Selection struct {
	Title     string `json:"title"`
	URL       string `json:"url"`
	VariantID string `json:"variant_id,omitempty"`
}

// SelectTarget picks the destination for a link using weighted roulette
// selection over its active variants.
//
// When A/B testing is off, or fewer than two active variants exist, the
// link's own title/url come back with no variant. A zero weight sum falls
// back to a uniform draw. Variants are walked in the order given (creation
// order), so a fixed draw always selects the same variant.
//
// The base-link selection is returned even alongside ErrConfiguration, so
// the caller always has a valid redirect target.
func SelectTarget(link *models.Link, variants []*models.LinkVariant, rng Rand) (Selection, error) {
	base := Selection{Title: link.Title, URL: link.URL}

	if !link.ABTestingEnabled {
		return base, nil
	}
	if len(variants) == 0 {
		return base, ErrConfiguration
	}

	active := make([]*models.LinkVariant, 0, len(variants))
	for _, v := range variants {
		if v.Active {
			active = append(active, v)
		}
	}
	if len(active) < 2 {
		return base, nil
	}

	total := 0
	for _, v := range active {
		if v.Weight > 0 {
			total += v.Weight
		}
	}

	var chosen *models.LinkVariant
	if total == 0 {
		// All weights zero: uniform choice rather than a division by zero.
		chosen = active[rng.Intn(len(active))]
	} else {
		r := rng.Intn(total)
		cum := 0
		for _, v := range active {
			if v.Weight > 0 {
				cum += v.Weight
			}
			if r < cum {
				chosen = v
				break
			}
		}
		// r < total guarantees the walk terminates, but keep a fallback.
		if chosen == nil {
			chosen = active[len(active)-1]
		}
	}

	return Selection{Title: chosen.Title, URL: chosen.URL, VariantID: chosen.ID}, nil
}

// Package receipt turns a raw extraction into the advisory scan result:
// store and item-category matching against the caller's catalog, and
// normalization of the extracted values.
package receipt

import (
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/agext/levenshtein"

	"receipt-scan-service/internal/entity"
)

const (
	StoreThreshold    = 0.85
	CategoryThreshold = 0.80

	storeNameWeight     = 0.7
	storeLocationWeight = 0.3

	// FallbackCategory is suggested when nothing matches and no hint was extracted.
	FallbackCategory = "Other"
)

// Normalize lowercases, trims, strips punctuation and collapses whitespace.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			continue
		case unicode.IsSpace(r):
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}

type normStore struct {
	entity.Store
	name, location string
}

type normCategory struct {
	entity.ItemCategory
	name string
}

// Matcher holds one user's catalog, normalized once per job.
type Matcher struct {
	stores     []normStore
	categories []normCategory
}

func NewMatcher(stores []entity.Store, categories []entity.ItemCategory) *Matcher {
	m := &Matcher{
		stores:     make([]normStore, 0, len(stores)),
		categories: make([]normCategory, 0, len(categories)),
	}
	for _, s := range stores {
		m.stores = append(m.stores, normStore{Store: s, name: Normalize(s.Name), location: Normalize(s.Location)})
	}
	for _, c := range categories {
		n := Normalize(c.Name)
		if n == "" {
			continue
		}
		m.categories = append(m.categories, normCategory{ItemCategory: c, name: n})
	}
	// iteration in id order makes every "first wins" below a lowest-id tie-break
	sort.SliceStable(m.stores, func(i, j int) bool { return lessID(m.stores[i].ID, m.stores[j].ID) })
	sort.SliceStable(m.categories, func(i, j int) bool { return lessID(m.categories[i].ID, m.categories[j].ID) })
	return m
}

// MatchStore resolves an extracted store against the catalog. A matched candidate
// carries the known store's id, name and location; otherwise the extracted values
// are returned for the client to create a new store.
func (m *Matcher) MatchStore(name, location string) entity.StoreCandidate {
	name, location = strings.TrimSpace(name), strings.TrimSpace(location)
	n, l := Normalize(name), Normalize(location)
	unmatched := entity.StoreCandidate{Name: name, Location: location}
	if n == "" {
		return unmatched
	}

	for _, s := range m.stores {
		if s.name == n && s.location == l {
			return matchedStore(s.Store)
		}
	}

	if l == "" {
		var only *normStore
		count := 0
		for i := range m.stores {
			if m.stores[i].name == n {
				only = &m.stores[i]
				count++
			}
		}
		if count == 1 {
			return matchedStore(only.Store)
		}
	}

	var (
		best      *normStore
		bestScore float64
	)
	for i := range m.stores {
		s := &m.stores[i]
		score := storeNameWeight*similarity(n, s.name) + storeLocationWeight*similarity(l, s.location)
		if score > bestScore {
			best, bestScore = s, score
		}
	}
	if best != nil && bestScore >= StoreThreshold {
		return matchedStore(best.Store)
	}
	return unmatched
}

func matchedStore(s entity.Store) entity.StoreCandidate {
	id := s.ID
	return entity.StoreCandidate{Name: s.Name, Location: s.Location, StoreID: &id, Matched: true}
}

// MatchCategory resolves an item against the catalog, then the extracted hint,
// and finally falls back to a suggestion without an id.
func (m *Matcher) MatchCategory(itemName string, hint *string) entity.CategoryMatch {
	if c, ok := m.lookupCategory(Normalize(itemName)); ok {
		return matchedCategory(c)
	}

	suggestion := FallbackCategory
	if hint != nil {
		if h := strings.TrimSpace(*hint); h != "" {
			if c, ok := m.lookupCategory(Normalize(h)); ok {
				return matchedCategory(c)
			}
			suggestion = h
		}
	}
	return entity.CategoryMatch{Name: suggestion}
}

// lookupCategory applies exact, whole-word and similarity matching in that order.
func (m *Matcher) lookupCategory(n string) (entity.ItemCategory, bool) {
	if n == "" {
		return entity.ItemCategory{}, false
	}

	for _, c := range m.categories {
		if c.name == n {
			return c.ItemCategory, true
		}
	}

	padded := " " + n + " "
	var word *normCategory
	for i := range m.categories {
		c := &m.categories[i]
		if strings.Contains(padded, " "+c.name+" ") && (word == nil || len(c.name) > len(word.name)) {
			word = c
		}
	}
	if word != nil {
		return word.ItemCategory, true
	}

	var (
		best      *normCategory
		bestScore float64
	)
	for i := range m.categories {
		c := &m.categories[i]
		if score := similarity(n, c.name); score > bestScore {
			best, bestScore = c, score
		}
	}
	if best != nil && bestScore >= CategoryThreshold {
		return best.ItemCategory, true
	}
	return entity.ItemCategory{}, false
}

// CategoryNames lists the catalog's category names, passed to the extractor as hints.
func (m *Matcher) CategoryNames() []string {
	out := make([]string, 0, len(m.categories))
	for _, c := range m.categories {
		out = append(out, c.Name)
	}
	return out
}

func matchedCategory(c entity.ItemCategory) entity.CategoryMatch {
	id := c.ID
	return entity.CategoryMatch{ID: &id, Name: c.Name, Matched: true}
}

// similarity is the Levenshtein ratio of two normalized strings; two empty
// strings are identical, one empty string matches nothing.
func similarity(a, b string) float64 {
	switch {
	case a == "" && b == "":
		return 1
	case a == "" || b == "":
		return 0
	}
	return levenshtein.Similarity(a, b, nil)
}

// lessID orders numeric ids numerically and anything else lexically.
func lessID(a, b string) bool {
	ai, aerr := strconv.ParseInt(a, 10, 64)
	bi, berr := strconv.ParseInt(b, 10, 64)
	if aerr == nil && berr == nil {
		return ai < bi
	}
	return a < b
}

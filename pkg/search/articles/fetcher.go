package articles

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"

	"lexmx-backend/pkg/models"
	"lexmx-backend/pkg/search/client"
)

const (
	// InjectedScore outranks anything a semantic stage can produce, so
	// deterministic hits survive every downstream trim and rerank.
	InjectedScore = 2.0

	// SweepScore ranks the broader CPEUM sweep below direct ref matches but
	// above all semantic results.
	SweepScore = 0.95

	// maxPerSilo caps direct-fetch hits per silo per article number.
	maxPerSilo = 3

	// maxSweep caps the constitutional sweep per article number.
	maxSweep = 10
)

var (
	articleWordRe = regexp.MustCompile(`(?i)art[íi]culo\s+(\d+)\s*[°oa]?\b`)
	articleAbbrRe = regexp.MustCompile(`(?i)art\.\s*(\d+)\s*[°oa]?\b`)
	cpeumRe       = regexp.MustCompile(`(?i)\b(cpeum|constituci[óo]n|constitucional)\b`)
)

// ExtractNumbers collects the distinct article numbers named explicitly in a
// query: numbers written as "artículo N" first, then those written as
// "art. N", each group in order of appearance.
func ExtractNumbers(query string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, re := range []*regexp.Regexp{articleWordRe, articleAbbrRe} {
		for _, m := range re.FindAllStringSubmatch(query, -1) {
			n := m[1]
			if _, ok := seen[n]; ok {
				continue
			}
			seen[n] = struct{}{}
			out = append(out, n)
		}
	}
	return out
}

// MentionsConstitution reports whether the query names the Constitution
// explicitly, which enables the CPEUM sweep path.
func MentionsConstitution(query string) bool {
	return cpeumRe.MatchString(query)
}

// refVariants are the citation labels the ingestion pipeline has historically
// produced for one article number.
func refVariants(n string) []string {
	return []string{
		fmt.Sprintf("Art. %s CPEUM", n),
		fmt.Sprintf("Art. %so CPEUM", n),
		fmt.Sprintf("Art. %s° CPEUM", n),
		fmt.Sprintf("Art. %sa CPEUM", n),
		fmt.Sprintf("Artículo %s", n),
		fmt.Sprintf("Art. %s", n),
	}
}

// Fetcher guarantees that explicitly numbered articles are present in the
// context regardless of semantic search outcomes. The 2024 judicial reform
// rewrote several constitutional articles; semantic similarity can favor
// pre-reform jurisprudence, so exact fetches are injected at a score no
// semantic stage can reach.
type Fetcher struct {
	store client.Store
}

// NewFetcher creates a deterministic article fetcher.
func NewFetcher(store client.Store) *Fetcher {
	return &Fetcher{store: store}
}

// Fetch retrieves exact ref matches for every extracted article number from
// the constitutional and federal silos. Results carry InjectedScore.
func (f *Fetcher) Fetch(ctx context.Context, query string) []*models.Document {
	numbers := ExtractNumbers(query)
	if len(numbers) == 0 {
		return nil
	}

	seen := make(map[string]struct{})
	var out []*models.Document

	for _, n := range numbers {
		for _, silo := range []string{models.SiloBloque, models.SiloFederal} {
			filter := &client.Filter{Must: []client.Condition{{Field: "ref", Any: refVariants(n)}}}
			docs, err := f.store.Scroll(ctx, silo, filter, maxPerSilo)
			if err != nil {
				log.Printf("[ARTICLES] scroll failed for art. %s in %s: %v", n, silo, err)
				continue
			}
			for _, doc := range docs {
				if _, dup := seen[doc.ID]; dup {
					continue
				}
				seen[doc.ID] = struct{}{}
				doc.Score = InjectedScore
				out = append(out, doc)
			}
		}
	}

	if MentionsConstitution(query) {
		out = append(out, f.sweepCPEUM(ctx, numbers, seen)...)
	}

	if len(out) > 0 {
		log.Printf("[ARTICLES] injected %d deterministic hit(s) for articles %s", len(out), strings.Join(numbers, ", "))
	}
	return out
}

// sweepCPEUM pulls every chunk of a named constitutional article (multi-chunk
// articles carry the same ref across chunk_index values), injected below the
// direct matches.
func (f *Fetcher) sweepCPEUM(ctx context.Context, numbers []string, seen map[string]struct{}) []*models.Document {
	var out []*models.Document
	for _, n := range numbers {
		variants := []string{
			fmt.Sprintf("Art. %s CPEUM", n),
			fmt.Sprintf("Art. %so CPEUM", n),
			fmt.Sprintf("Art. %s° CPEUM", n),
			fmt.Sprintf("Art. %sa CPEUM", n),
		}
		filter := &client.Filter{Must: []client.Condition{{Field: "ref", Any: variants}}}
		docs, err := f.store.Scroll(ctx, models.SiloBloque, filter, maxSweep)
		if err != nil {
			log.Printf("[ARTICLES] CPEUM sweep failed for art. %s: %v", n, err)
			continue
		}
		for _, doc := range docs {
			if _, dup := seen[doc.ID]; dup {
				continue
			}
			seen[doc.ID] = struct{}{}
			doc.Score = SweepScore
			out = append(out, doc)
		}
	}
	return out
}

// Package search synthesizes the concatenated searchable text field stored
// on every loaded record. The field backs the knowledgebase full text index;
// it is derived, never curated, and rebuilt on every load.
package search

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/biomarker-kb-server/internal/domain"
)

// MaxAllTextSize caps the synthesized field. Contributions that would push
// the field past the cap are dropped with a warning rather than failing the
// record.
const MaxAllTextSize = 10_000_000

// stopWords is the embedded English stop word list applied before
// concatenation.
var stopWords = map[string]struct{}{}

func init() {
	words := []string{
		"a", "about", "above", "after", "again", "against", "all", "am", "an",
		"and", "any", "are", "as", "at", "be", "because", "been", "before",
		"being", "below", "between", "both", "but", "by", "can", "did", "do",
		"does", "doing", "down", "during", "each", "few", "for", "from",
		"further", "had", "has", "have", "having", "he", "her", "here", "hers",
		"herself", "him", "himself", "his", "how", "i", "if", "in", "into",
		"is", "it", "its", "itself", "just", "me", "more", "most", "my",
		"myself", "no", "nor", "not", "now", "of", "off", "on", "once", "only",
		"or", "other", "our", "ours", "ourselves", "out", "over", "own", "s",
		"same", "she", "should", "so", "some", "such", "t", "than", "that",
		"the", "their", "theirs", "them", "themselves", "then", "there",
		"these", "they", "this", "those", "through", "to", "too", "under",
		"until", "up", "very", "was", "we", "were", "what", "when", "where",
		"which", "while", "who", "whom", "why", "will", "with", "you", "your",
		"yours", "yourself", "yourselves",
	}
	for _, w := range words {
		stopWords[w] = struct{}{}
	}
}

// Synthesizer builds the all_text field from a record.
type Synthesizer struct {
	maxSize int
	log     *logrus.Logger
}

// NewSynthesizer creates an all_text synthesizer with the default size cap.
func NewSynthesizer(logger *logrus.Logger) *Synthesizer {
	return &Synthesizer{maxSize: MaxAllTextSize, log: logger}
}

// AllText builds the concatenated search text for a record: every relevant
// string field, lowercased, stop-word filtered and de-duplicated, joined by
// spaces.
func (s *Synthesizer) AllText(record *domain.BiomarkerRecord) string {
	b := &textBuilder{
		maxSize:  s.maxSize,
		filtered: make(map[string]string),
		seen:     make(map[string]struct{}),
	}

	b.add(record.BiomarkerID)
	b.add(record.CanonicalID)

	for _, comp := range record.Components {
		b.add(comp.Biomarker)
		b.add(comp.Entity.RecommendedName)
		for _, syn := range comp.Entity.Synonyms {
			b.add(syn.Synonym)
		}
		b.add(comp.EntityID)
		b.add(comp.EntityType)
		for _, specimen := range comp.Specimens {
			b.add(specimen.Name)
			b.add(specimen.ID)
			b.add(specimen.NameSpace)
			b.add(specimen.LoincCode)
		}
		addEvidenceSources(b, comp.EvidenceSources)
	}

	for _, role := range record.Roles {
		b.add(role.Role)
	}

	if record.Condition != nil {
		addResourceName(b, record.Condition.RecommendedName)
		for _, syn := range record.Condition.Synonyms {
			b.add(syn.ID)
			b.add(syn.Name)
			b.add(syn.Resource)
		}
	}
	if record.ExposureAgent != nil {
		addResourceName(b, record.ExposureAgent.RecommendedName)
		for _, syn := range record.ExposureAgent.Synonyms {
			b.add(syn.ID)
			b.add(syn.Name)
			b.add(syn.Resource)
		}
	}

	addEvidenceSources(b, record.EvidenceSources)

	for _, citation := range record.Citations {
		b.add(citation.Title)
		b.add(citation.Journal)
		b.add(citation.Authors)
		for _, ref := range citation.References {
			b.add(ref.ID)
			b.add(ref.Type)
		}
	}

	if b.overflowed && s.log != nil {
		s.log.WithField("biomarker_id", record.BiomarkerID).
			Warn("Skipped search text additions past the size cap")
	}

	return strings.Join(b.parts, " ")
}

func addEvidenceSources(b *textBuilder, sources []domain.EvidenceSource) {
	for _, src := range sources {
		b.add(src.ID)
		b.add(src.Database)
		for _, ev := range src.EvidenceList {
			b.add(ev.Evidence)
		}
	}
}

func addResourceName(b *textBuilder, rn domain.ResourceName) {
	b.add(rn.ID)
	b.add(rn.Name)
	b.add(rn.Description)
	b.add(rn.Resource)
}

type textBuilder struct {
	parts      []string
	size       int
	maxSize    int
	filtered   map[string]string
	seen       map[string]struct{}
	overflowed bool
}

func (b *textBuilder) add(value string) {
	if value == "" {
		return
	}
	filtered := b.filter(value)
	if filtered == "" {
		return
	}
	if _, ok := b.seen[filtered]; ok {
		return
	}
	if b.size+len(filtered) > b.maxSize {
		b.overflowed = true
		return
	}
	b.seen[filtered] = struct{}{}
	b.parts = append(b.parts, filtered)
	b.size += len(filtered)
}

// filter lowercases and strips stop words, memoizing per distinct input
// since synonyms and evidence texts repeat heavily within a record.
func (b *textBuilder) filter(text string) string {
	if cached, ok := b.filtered[text]; ok {
		return cached
	}
	words := strings.Fields(strings.ToLower(strings.TrimSpace(text)))
	kept := words[:0]
	for _, w := range words {
		if _, stop := stopWords[w]; !stop {
			kept = append(kept, w)
		}
	}
	out := strings.Join(kept, " ")
	b.filtered[text] = out
	return out
}

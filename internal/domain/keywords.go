// Package domain infers the knowledge domains a query touches. The primary
// path is an LLM-backed processing unit; the fallback is a deterministic
// keyword classifier so domain signals survive total backend outage.
package domain

import (
	"sort"
	"strings"
)

// GeneralDomain is the classification when nothing in the vocabulary matches.
const GeneralDomain = "general"

// DomainKeywords binds one domain to its keyword set. Declaration order in a
// vocabulary is significant: it breaks score ties deterministically.
type DomainKeywords struct {
	Domain   string   `mapstructure:"domain" yaml:"domain"`
	Keywords []string `mapstructure:"keywords" yaml:"keywords"`
}

// DefaultVocabulary returns the built-in bilingual vocabulary. Keyword
// matching is substring-based, so the Chinese entries work without
// tokenization.
func DefaultVocabulary() []DomainKeywords {
	return []DomainKeywords{
		{Domain: "technology", Keywords: []string{"技术", "科技", "编程", "AI", "人工智能", "软件", "programming", "software", "computer"}},
		{Domain: "education", Keywords: []string{"教育", "学习", "教学", "培训", "education", "learning", "teaching"}},
		{Domain: "science", Keywords: []string{"科学", "研究", "实验", "理论", "science", "research", "experiment"}},
		{Domain: "business", Keywords: []string{"商业", "管理", "营销", "经济", "business", "management", "marketing"}},
		{Domain: "art", Keywords: []string{"艺术", "设计", "创作", "美学", "art", "design", "aesthetic"}},
	}
}

// Classification is the classifier's deterministic verdict.
type Classification struct {
	// Primary lists domains at or above the score threshold, sorted by
	// descending score with ties broken by vocabulary declaration order.
	// Never empty: with no matches it holds GeneralDomain.
	Primary []string

	// Secondary lists domains that matched but fell below the threshold.
	Secondary []string

	// Scores holds the matched-keyword fraction per matched domain.
	Scores map[string]float64
}

// Classifier scores a query against a keyword vocabulary. It is pure string
// work: same query, same vocabulary, same verdict, every time.
type Classifier struct {
	vocab    []DomainKeywords
	minScore int
}

// NewClassifier creates a classifier. minScore is the matched-keyword count a
// domain needs to be primary; values below 1 are clamped to 1.
func NewClassifier(vocab []DomainKeywords, minScore int) *Classifier {
	if len(vocab) == 0 {
		vocab = DefaultVocabulary()
	}
	if minScore < 1 {
		minScore = 1
	}
	return &Classifier{vocab: vocab, minScore: minScore}
}

// Domains lists the vocabulary's domain names in declaration order.
func (c *Classifier) Domains() []string {
	out := make([]string, len(c.vocab))
	for i, dk := range c.vocab {
		out[i] = dk.Domain
	}
	return out
}

// Classify scores the query. Matching is case-insensitive substring
// containment of each keyword.
func (c *Classifier) Classify(query string) Classification {
	lower := strings.ToLower(query)

	type scored struct {
		domain string
		count  int
		order  int
	}

	var matched []scored
	scores := make(map[string]float64)

	for i, dk := range c.vocab {
		count := 0
		for _, kw := range dk.Keywords {
			if kw == "" {
				continue
			}
			if strings.Contains(lower, strings.ToLower(kw)) {
				count++
			}
		}
		if count > 0 {
			matched = append(matched, scored{domain: dk.Domain, count: count, order: i})
			scores[dk.Domain] = float64(count) / float64(len(dk.Keywords))
		}
	}

	sort.SliceStable(matched, func(a, b int) bool {
		if matched[a].count != matched[b].count {
			return matched[a].count > matched[b].count
		}
		return matched[a].order < matched[b].order
	})

	var primary, secondary []string
	for _, m := range matched {
		if m.count >= c.minScore {
			primary = append(primary, m.domain)
		} else {
			secondary = append(secondary, m.domain)
		}
	}

	if len(primary) == 0 {
		primary = []string{GeneralDomain}
	}

	return Classification{
		Primary:   primary,
		Secondary: secondary,
		Scores:    scores,
	}
}

package nlu

import (
	"fmt"
	"math"
	"sort"
)

// intentTable holds the token statistics of one intent.
type intentTable struct {
	Documents   int            `json:"documents"`
	Tokens      map[string]int `json:"tokens"`
	TotalTokens int            `json:"total_tokens"`
}

// languageModel is a multinomial naive Bayes classifier for one language.
type languageModel struct {
	Documents  int                     `json:"documents"`
	Intents    map[string]*intentTable `json:"intents"`
	Vocabulary []string                `json:"vocabulary"`

	vocab map[string]struct{}
}

func newLanguageModel() *languageModel {
	return &languageModel{
		Intents: make(map[string]*intentTable),
		vocab:   make(map[string]struct{}),
	}
}

func (m *languageModel) add(tokens []string, intent string) {
	table, ok := m.Intents[intent]
	if !ok {
		table = &intentTable{Tokens: make(map[string]int)}
		m.Intents[intent] = table
	}
	table.Documents++
	m.Documents++
	for _, tok := range tokens {
		table.Tokens[tok]++
		table.TotalTokens++
		m.vocab[tok] = struct{}{}
	}
}

// seal materializes the sorted vocabulary for export.
func (m *languageModel) seal() {
	m.Vocabulary = make([]string, 0, len(m.vocab))
	for tok := range m.vocab {
		m.Vocabulary = append(m.Vocabulary, tok)
	}
	sort.Strings(m.Vocabulary)
}

// validate checks the internal consistency of an imported model and rebuilds
// the vocabulary index.
func (m *languageModel) validate() error {
	if m.Documents <= 0 || len(m.Intents) == 0 {
		return fmt.Errorf("language model has no documents")
	}

	m.vocab = make(map[string]struct{}, len(m.Vocabulary))
	for _, tok := range m.Vocabulary {
		if tok == "" {
			return fmt.Errorf("empty vocabulary entry")
		}
		m.vocab[tok] = struct{}{}
	}

	docs := 0
	for intent, table := range m.Intents {
		if intent == "" || table == nil {
			return fmt.Errorf("invalid intent entry %q", intent)
		}
		if table.Documents <= 0 {
			return fmt.Errorf("intent %q has no documents", intent)
		}
		total := 0
		for tok, n := range table.Tokens {
			if n <= 0 {
				return fmt.Errorf("intent %q: non-positive count for %q", intent, tok)
			}
			if _, ok := m.vocab[tok]; !ok {
				return fmt.Errorf("intent %q: token %q missing from vocabulary", intent, tok)
			}
			total += n
		}
		if total != table.TotalTokens {
			return fmt.Errorf("intent %q: token total %d does not match counts %d", intent, table.TotalTokens, total)
		}
		docs += table.Documents
	}
	if docs != m.Documents {
		return fmt.Errorf("document total %d does not match intents %d", m.Documents, docs)
	}
	return nil
}

// classify returns intent probabilities sorted by score, or nil when no token
// of the utterance is in the vocabulary.
func (m *languageModel) classify(tokens []string) []Classification {
	known := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if _, ok := m.vocab[tok]; ok {
			known = append(known, tok)
		}
	}
	if len(known) == 0 {
		return nil
	}

	// Iterate in a fixed order so float sums are reproducible.
	intents := make([]string, 0, len(m.Intents))
	for intent := range m.Intents {
		intents = append(intents, intent)
	}
	sort.Strings(intents)

	v := float64(len(m.vocab))
	logScores := make([]float64, len(intents))
	best := math.Inf(-1)
	for i, intent := range intents {
		table := m.Intents[intent]
		score := math.Log(float64(table.Documents) / float64(m.Documents))
		denom := float64(table.TotalTokens) + v
		for _, tok := range known {
			score += math.Log((float64(table.Tokens[tok]) + 1) / denom)
		}
		logScores[i] = score
		if score > best {
			best = score
		}
	}

	var sum float64
	for _, s := range logScores {
		sum += math.Exp(s - best)
	}

	out := make([]Classification, len(intents))
	for i, intent := range intents {
		out[i] = Classification{Intent: intent, Score: math.Exp(logScores[i]-best) / sum}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Intent < out[j].Intent
	})
	return out
}

package pipeline

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/korahq/kora/internal/llmjson"
)

const (
	// Minimum Jaro-Winkler score for a phonetically-aligned email candidate.
	phoneticThreshold = 0.70
	// Minimum score when no candidate shares a phonetic code with the name.
	fuzzyThreshold = 0.85
)

var (
	emailPattern   = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	indexesPattern = regexp.MustCompile(`(?s)<indexes>(.*?)</indexes>`)
	digitsPattern  = regexp.MustCompile(`\d+`)
)

// ExtractEmailsFromContext resolves human names mentioned in the query to
// email addresses found in the retrieved context. The model proposes the
// names; each name is then matched against the candidate addresses in two
// stages, a Double Metaphone overlap filter on the address local part
// followed by Jaro-Winkler ranking. Names with no acceptable candidate are
// dropped.
func (p *Pipeline) ExtractEmailsFromContext(ctx context.Context, req Request) ([]string, error) {
	system := "Identify the people the user's query refers to by name. Respond with a JSON object {\"names\": [string]} listing each full name exactly as written in the query. Respond with {\"names\": []} when the query names nobody."
	text, _, err := p.converseSystem(ctx, req, system, true)
	if err != nil {
		return nil, err
	}
	names := llmjson.StringSlice(llmjson.ParseWithKey(text, "names"), "names")
	if len(names) == 0 {
		return nil, nil
	}

	candidates := dedupe(emailPattern.FindAllString(req.Bundle.Render(), -1))
	if len(candidates) == 0 {
		return nil, nil
	}

	var out []string
	seen := make(map[string]bool)
	for _, name := range names {
		email, ok := bestEmailFor(name, candidates)
		if ok && !seen[email] {
			seen[email] = true
			out = append(out, email)
		}
	}
	return out, nil
}

// bestEmailFor ranks candidate addresses against a person name. The local
// part is split on separators so "jane.doe" compares token-wise against
// "Jane Doe".
func bestEmailFor(name string, candidates []string) (string, bool) {
	nameTokens := strings.Fields(strings.ToLower(strings.TrimSpace(name)))
	if len(nameTokens) == 0 {
		return "", false
	}
	nameCodes := metaphoneCodes(nameTokens)

	var bestEmail string
	var bestScore float64
	bestPhonetic := false

	for _, email := range candidates {
		local := strings.ToLower(email[:strings.IndexByte(email, '@')])
		localTokens := splitLocalPart(local)

		phonetic := codesOverlap(nameCodes, metaphoneCodes(localTokens))
		score := bestSimilarity(nameTokens, localTokens)

		switch {
		case phonetic && score >= phoneticThreshold:
			if !bestPhonetic || score > bestScore {
				bestEmail, bestScore, bestPhonetic = email, score, true
			}
		case !phonetic && !bestPhonetic:
			if score >= fuzzyThreshold && score > bestScore {
				bestEmail, bestScore = email, score
			}
		}
	}
	return bestEmail, bestEmail != ""
}

// splitLocalPart tokenizes an address local part on the common separators
// and strips digit runs, so "jane.doe42" yields ["jane", "doe"].
func splitLocalPart(local string) []string {
	local = digitsPattern.ReplaceAllString(local, " ")
	return strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+' || r == ' '
	})
}

func metaphoneCodes(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestSimilarity is the highest Jaro-Winkler score across full-string,
// concatenated, and pairwise token comparisons.
func bestSimilarity(aTokens, bTokens []string) float64 {
	score := matchr.JaroWinkler(strings.Join(aTokens, " "), strings.Join(bTokens, " "), false)
	if s := matchr.JaroWinkler(strings.Join(aTokens, ""), strings.Join(bTokens, ""), false); s > score {
		score = s
	}
	for _, a := range aTokens {
		for _, b := range bTokens {
			if s := matchr.JaroWinkler(a, b, false); s > score {
				score = s
			}
		}
	}
	return score
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		key := strings.ToLower(s)
		if !seen[key] {
			seen[key] = true
			out = append(out, s)
		}
	}
	return out
}

// ExtractBestDocumentIndexes asks the model to rank the retrieved passages
// and returns the index list parsed from the <indexes> element. Indexes
// that do not exist in the bundle are dropped; a response without the
// element yields an empty list, not an error.
func (p *Pipeline) ExtractBestDocumentIndexes(ctx context.Context, req Request) ([]int, error) {
	system := "Rank the context fragments by how useful they are for answering the user's query. Respond with the fragment numbers, best first, wrapped exactly as <indexes>1, 2, 3</indexes>. Include only fragments that genuinely help."
	in := req.promptInputs()
	system = system + "\n\nContext:\n" + in.RetrievedContext

	text, _, err := p.converseSystem(ctx, req, system, false)
	if err != nil {
		return nil, err
	}

	match := indexesPattern.FindStringSubmatch(text)
	if match == nil {
		return nil, nil
	}

	valid := make(map[int]bool, len(req.Bundle.Fragments))
	for _, f := range req.Bundle.Fragments {
		valid[f.Index] = true
	}

	var out []int
	seen := make(map[int]bool)
	for _, raw := range digitsPattern.FindAllString(match[1], -1) {
		idx, err := strconv.Atoi(raw)
		if err != nil || seen[idx] || !valid[idx] {
			continue
		}
		seen[idx] = true
		out = append(out, idx)
	}
	return out, nil
}

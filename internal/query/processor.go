// Package query transforms a caller-supplied free-text hint into the
// structure the tool loader consumes: normalized text, keywords, an
// inferred action and domain, a confidence value and an enhanced query
// for BM25.
package query

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Action is the inferred intent of the hint.
type Action string

const (
	ActionSend   Action = "send"
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionDelete Action = "delete"
)

// Domain is the inferred subject area of the hint.
type Domain string

const (
	DomainCommunication Domain = "communication"
	DomainDatabase      Domain = "database"
	DomainFilesystem    Domain = "filesystem"
	DomainDevelopment   Domain = "development"
	DomainWeb           Domain = "web"
	DomainAI            Domain = "ai"
	DomainOther         Domain = "other"
)

// Processed is the analysis result for one hint.
type Processed struct {
	Normalized    string
	Keywords      []string
	Action        Action
	Domain        Domain
	Confidence    float64
	EnhancedQuery string
}

// actionSynonyms maps verbs to their canonical action.
var actionSynonyms = map[string]Action{
	"send": ActionSend, "post": ActionSend, "publish": ActionSend, "notify": ActionSend,
	"read": ActionRead, "get": ActionRead, "fetch": ActionRead, "query": ActionRead,
	"list": ActionRead, "find": ActionRead, "search": ActionRead, "show": ActionRead,
	"write": ActionWrite, "create": ActionWrite, "update": ActionWrite,
	"modify": ActionWrite, "add": ActionWrite, "insert": ActionWrite, "save": ActionWrite,
	"delete": ActionDelete, "remove": ActionDelete, "destroy": ActionDelete, "drop": ActionDelete,
}

// domainOrder fixes the tie-break: first declared wins.
var domainOrder = []Domain{
	DomainCommunication, DomainDatabase, DomainFilesystem,
	DomainDevelopment, DomainWeb, DomainAI,
}

var domainVocabulary = map[Domain][]string{
	DomainCommunication: {"message", "slack", "email", "chat", "channel", "notify", "mail", "sms"},
	DomainDatabase:      {"database", "sql", "table", "row", "record", "schema", "index", "postgres", "sqlite"},
	DomainFilesystem:    {"file", "directory", "folder", "path", "disk", "filesystem", "read", "write"},
	DomainDevelopment:   {"code", "test", "build", "deploy", "git", "commit", "debug", "compile"},
	DomainWeb:           {"http", "url", "api", "request", "browser", "html", "scrape", "website"},
	DomainAI:            {"model", "prompt", "llm", "embedding", "inference", "agent", "completion"},
}

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "from": {}, "that": {},
	"this": {}, "into": {}, "onto": {}, "then": {}, "than": {}, "when": {},
	"what": {}, "how": {}, "can": {}, "you": {}, "please": {}, "some": {},
	"all": {}, "any": {}, "not": {}, "are": {}, "was": {}, "will": {},
}

// Processor analyzes hints. Analysis is a pure function of the hint, so
// results are memoized in a small LRU.
type Processor struct {
	cache *lru.Cache[string, Processed]
}

// NewProcessor creates a processor with a 256-entry result cache.
func NewProcessor() *Processor {
	cache, _ := lru.New[string, Processed](256)
	return &Processor{cache: cache}
}

// Process analyzes the hint.
func (p *Processor) Process(hint string) Processed {
	if cached, ok := p.cache.Get(hint); ok {
		return cached
	}
	result := analyze(hint)
	p.cache.Add(hint, result)
	return result
}

func analyze(hint string) Processed {
	normalized := strings.Join(strings.Fields(strings.ToLower(hint)), " ")
	tokens := strings.FieldsFunc(normalized, func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})

	keywords := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if len(t) <= 2 {
			continue
		}
		if _, stop := stopWords[t]; stop {
			continue
		}
		keywords = append(keywords, t)
	}

	result := Processed{
		Normalized: normalized,
		Keywords:   keywords,
		Domain:     DomainOther,
	}

	// Action: first token with a synonym match wins; keywords without
	// any verb default to read.
	actionMatched := false
	for _, t := range tokens {
		if action, ok := actionSynonyms[t]; ok {
			result.Action = action
			actionMatched = true
			break
		}
	}
	if !actionMatched && len(keywords) > 0 {
		result.Action = ActionRead
	}

	// Domain: count keyword hits against each vocabulary; ties break by
	// declaration order.
	tokenSet := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		tokenSet[t] = struct{}{}
	}
	bestCount := 0
	for _, domain := range domainOrder {
		count := 0
		for _, term := range domainVocabulary[domain] {
			if _, ok := tokenSet[term]; ok {
				count++
			}
		}
		if count > bestCount {
			bestCount = count
			result.Domain = domain
		}
	}

	// Confidence: action match 0.3, domain match 0.5, entity count 0.2.
	confidence := 0.0
	if actionMatched {
		confidence += 0.3
	}
	if result.Domain != DomainOther {
		confidence += 0.5
	}
	if len(keywords) > 0 {
		entity := float64(len(keywords)) / 5.0
		if entity > 1 {
			entity = 1
		}
		confidence += 0.2 * entity
	}
	result.Confidence = confidence

	result.EnhancedQuery = enhance(normalized, domainVocabulary[result.Domain], result.Action, actionMatched)
	return result
}

// enhance expands the normalized query with up to three terms from the
// inferred domain's vocabulary (declaration order ranks them) and the
// canonical action verb, deduplicated against the query itself.
func enhance(normalized string, domainTerms []string, action Action, actionMatched bool) string {
	present := make(map[string]struct{})
	for _, t := range strings.Fields(normalized) {
		present[t] = struct{}{}
	}

	extras := make([]string, 0, 4)
	for _, term := range domainTerms {
		if len(extras) >= 3 {
			break
		}
		if _, ok := present[term]; ok {
			continue
		}
		present[term] = struct{}{}
		extras = append(extras, term)
	}
	if actionMatched {
		verb := string(action)
		if _, ok := present[verb]; !ok {
			extras = append(extras, verb)
		}
	}
	if len(extras) == 0 {
		return normalized
	}
	return strings.TrimSpace(normalized + " " + strings.Join(extras, " "))
}

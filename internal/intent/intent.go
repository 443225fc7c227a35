// Package intent classifies free-text chat messages.
//
// Rules are evaluated in a fixed order and the first match wins. Health rules
// are listed before request rules, so a message that matches both is always a
// health query.
package intent

import (
	"regexp"
	"strings"
)

// Kind is the classification of a message.
type Kind string

const (
	// None means the conversational layer does not handle the message.
	None Kind = "none"
	// Health asks whether the media services are up.
	Health Kind = "health"
	// Request asks for a title to be found and requested.
	Request Kind = "request"
)

// Result is the outcome of Classify.
type Result struct {
	Kind  Kind
	Title string
	// Rule names the matching rule, empty for None.
	Rule string
}

// Extractor pulls the title out of a regexp match. Returning "" rejects the match.
type Extractor func(match []string) string

// Rule pairs a pattern with the classification it produces.
type Rule struct {
	Name    string
	Kind    Kind
	Pattern *regexp.Regexp
	Extract Extractor
}

// Router holds an ordered rule list.
type Router struct {
	rules []Rule
}

// New returns a router evaluating rules in the given order.
func New(rules ...Rule) *Router {
	return &Router{rules: append([]Rule(nil), rules...)}
}

// Default returns the production rule set: health rules first, then request rules.
func Default() *Router {
	rules := append([]Rule(nil), HealthRules()...)
	rules = append(rules, RequestRules()...)
	return New(rules...)
}

// Rules returns a copy of the ordered rule list.
func (r *Router) Rules() []Rule {
	return append([]Rule(nil), r.rules...)
}

// Classify returns the first matching rule's classification.
func (r *Router) Classify(text string) Result {
	s := strings.TrimSpace(text)
	if s == "" || strings.HasPrefix(s, "/") {
		return Result{Kind: None}
	}
	for _, rule := range r.rules {
		m := rule.Pattern.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		if rule.Kind != Request {
			return Result{Kind: rule.Kind, Rule: rule.Name}
		}
		extract := rule.Extract
		if extract == nil {
			extract = LastGroup
		}
		title := CleanTitle(extract(m))
		if title == "" {
			continue
		}
		return Result{Kind: Request, Title: title, Rule: rule.Name}
	}
	return Result{Kind: None}
}

// LastGroup returns the last capture group of a match.
func LastGroup(m []string) string {
	if len(m) < 2 {
		return ""
	}
	return m[len(m)-1]
}

// HealthRules match questions about service availability.
func HealthRules() []Rule {
	return []Rule{
		{
			Name:    "health.bare",
			Kind:    Health,
			Pattern: regexp.MustCompile(`(?i)^(?:status|health|health\s*check|service\s+status)\s*[?!.]*$`),
		},
		{
			Name:    "health.services_state",
			Kind:    Health,
			Pattern: regexp.MustCompile(`(?i)\b(?:services?|servers?|plex|jellyfin|emby|sonarr|radarr|downloads|downloader)\b.*\b(?:up|down|working|running|online|offline|broken|ok|okay|alive)\b`),
		},
		{
			Name:    "health.is_state",
			Kind:    Health,
			Pattern: regexp.MustCompile(`(?i)\b(?:is|are)\s+(?:everything|it|things|the\s+server)\s+(?:up|down|working|running|online|ok|okay)\b`),
		},
		{
			Name:    "health.whats_wrong",
			Kind:    Health,
			Pattern: regexp.MustCompile(`(?i)\b(?:what'?s|what\s+is)\s+(?:wrong|going\s+on)\s+with\s+(?:the\s+)?(?:server|services?|plex|jellyfin)\b`),
		},
	}
}

// RequestRules match requests for a title and capture it as the last group.
func RequestRules() []Rule {
	return []Rule{
		{
			Name:    "request.want_to_watch",
			Kind:    Request,
			Pattern: regexp.MustCompile(`(?i)^\s*i(?:'d\s+like|\s+(?:really\s+)?(?:want|wanna|would\s+like))\s+(?:to\s+)?(?:watch|see|request)\s+(.+)$`),
		},
		{
			Name:    "request.can_you_get",
			Kind:    Request,
			Pattern: regexp.MustCompile(`(?i)^\s*(?:can|could|would)\s+(?:you|i|we)\s+(?:please\s+)?(?:get|add|request|download|grab|find)\s+(?:me\s+)?(.+)$`),
		},
		{
			Name:    "request.imperative",
			Kind:    Request,
			Pattern: regexp.MustCompile(`(?i)^\s*(?:please\s+)?(?:request|add|download|grab|get\s+me|find\s+me|search\s+for)\s+(.+)$`),
		},
		{
			Name:    "request.looking_for",
			Kind:    Request,
			Pattern: regexp.MustCompile(`(?i)^\s*(?:i'?m|i\s+am)\s+looking\s+for\s+(.+)$`),
		},
	}
}

var (
	// Capitalised filler is part of the title unless a comma sets it apart.
	trailingFiller = regexp.MustCompile(`(?:(?:^|\s+)(?:please|pls|plz|for\s+me|thanks|thank\s+you|thx|ty)|,\s*(?i:please|pls|plz|for\s+me|thanks|thank\s+you|thx|ty)|[\s.!?,;:]+)$`)
	leadingArticle = regexp.MustCompile(`(?i)^the\s+(?:movie|film|show|series|tv\s+show)\s+`)
)

// CleanTitle strips trailing filler tokens, trailing punctuation and wrapping
// quotes until the title stops changing. Filler is stripped when written in
// lower case or after a comma.
func CleanTitle(raw string) string {
	s := strings.TrimSpace(raw)
	for {
		prev := s
		s = trailingFiller.ReplaceAllString(s, "")
		s = strings.TrimSpace(s)
		s = strings.Trim(s, `"'“”‘’`)
		s = strings.TrimSpace(s)
		if s == prev {
			break
		}
	}
	s = leadingArticle.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

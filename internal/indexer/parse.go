// Package indexer synchronizes the learning store with markdown files on
// disk: discovery, metadata parsing, embedding, pruning, and manifest
// generation.
package indexer

import (
	"regexp"
	"sort"
	"strings"
)

// Metadata is everything parsed out of a learning file's text. The format
// is deliberately loose: markers are scanned line by line and every field
// has a default, so a bare markdown file still indexes.
type Metadata struct {
	Type     string
	Topic    string
	Tags     []string
	Keywords []string
	Summary  string
}

// Learning types. Anything else found after **Type:** is kept verbatim.
const (
	TypePattern  = "pattern"
	TypeGotcha   = "gotcha"
	TypeSecurity = "security"
)

var (
	typeMarker  = regexp.MustCompile(`\*\*Type:\*\*\s*(.+)`)
	topicMarker = regexp.MustCompile(`\*\*[Tt]opic:\*\*\s*(.+)`)
	tagsMarker  = regexp.MustCompile(`\*\*Tags:\*\*\s*(.+)`)

	codeBlockRe = regexp.MustCompile("(?s)```(\\w+)?\n(.*?)```")
	importRe    = regexp.MustCompile(`(?m)(?:import\s+|from\s+|require\(['"])(\w+)`)
	urlRe       = regexp.MustCompile(`https?://\S+`)
	markdownRe  = regexp.MustCompile("[#*`\\[\\]()]")
)

// Parse extracts structured metadata from learning file content.
func Parse(content string) Metadata {
	m := Metadata{
		Type:    TypePattern,
		Topic:   "other",
		Summary: extractSummary(content),
	}

	if match := typeMarker.FindStringSubmatch(content); match != nil {
		m.Type = strings.ToLower(strings.TrimSpace(match[1]))
	}
	if match := tagsMarker.FindStringSubmatch(content); match != nil {
		for _, tag := range strings.Split(match[1], ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				m.Tags = append(m.Tags, strings.ToLower(tag))
			}
		}
	}
	m.Tags = mergeTags(m.Tags, autoTags(content))
	m.Topic = detectTopic(content, m.Tags)
	m.Keywords = extractKeywords(content)
	return m
}

// IsCorrectionContent reports whether content reads like a "don't do X"
// learning, independent of its declared type.
func IsCorrectionContent(content string) bool {
	lower := strings.ToLower(content)
	indicators := []string{
		"don't ", "dont ", "do not ", "never ", "avoid ",
		"mistake", "wrong", "incorrect", "pitfall", "gotcha",
		"instead of", "not working", "doesn't work", "broken",
	}
	for _, ind := range indicators {
		if strings.Contains(lower, ind) {
			return true
		}
	}
	return false
}

// extractSummary returns the first meaningful line, capped at 200 bytes.
func extractSummary(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || len(line) <= 10 {
			continue
		}
		if len(line) > 200 {
			return line[:200]
		}
		return line
	}
	return "Learning document"
}

// autoTags derives tags from code block languages, import statements, and
// well-known technology names in the body.
func autoTags(content string) []string {
	seen := map[string]bool{}

	for _, block := range codeBlockRe.FindAllStringSubmatch(content, -1) {
		if lang := strings.ToLower(block[1]); lang != "" {
			seen[lang] = true
		}
		for _, imp := range importRe.FindAllStringSubmatch(block[2], -1) {
			seen[strings.ToLower(imp[1])] = true
		}
	}

	techKeywords := []string{
		"docker", "redis", "postgres", "mysql", "mongodb", "sqlite",
		"jwt", "oauth", "react", "vue", "angular", "express",
		"fastapi", "django", "flask", "kubernetes", "aws",
		"terraform", "ansible", "jenkins", "github", "gitlab",
	}
	lower := strings.ToLower(content)
	for _, kw := range techKeywords {
		if strings.Contains(lower, kw) {
			seen[kw] = true
		}
	}

	tags := make([]string, 0, len(seen))
	for tag := range seen {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

func mergeTags(explicit, auto []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range explicit {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, t := range auto {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// topicPatterns maps topics to body keywords, checked in order so the more
// specific topics win.
var topicPatterns = []struct {
	topic    string
	keywords []string
}{
	{"authentication", []string{"jwt", "oauth", "login", "session", "refresh token", "auth flow"}},
	{"security", []string{"xss", "cors", "csrf", "injection", "sanitiz", "vulnerability", "credential"}},
	{"error-handling", []string{"retry", "timeout", "graceful", "fallback", "exception", "error handling"}},
	{"testing", []string{"mock", "fixture", "test case", "integration test", "unit test", "e2e", "assertion"}},
	{"performance", []string{"caching", "n+1", "lazy load", "optimize", "bottleneck", "profil"}},
	{"deployment", []string{"docker", "kubernetes", "k8s", "ci/cd", "pipeline", "deploy"}},
	{"configuration", []string{"env var", "environment", "config", ".env", "settings"}},
	{"database", []string{"migration", "transaction", "query", "sql", "orm"}},
	{"api-integration", []string{"rest", "graphql", "endpoint", "webhook", "api call"}},
	{"architecture", []string{"pattern", "design", "structure", "refactor", "abstraction"}},
	{"frontend", []string{"component", "render", "state", "css", "style", "layout"}},
	{"memory-system", []string{"vector", "embedding", "semantic search", "storage"}},
}

// topicTagMap scores topics by how many of a learning's tags fall in each
// topic's indicator set, used as a fallback after body patterns.
var topicTagMap = map[string][]string{
	"kubernetes-infrastructure": {"kubernetes", "k8s", "helm", "kubectl", "ingress", "namespace", "rbac", "cluster", "hpa", "pvc"},
	"aws":                       {"aws", "ec2", "s3", "ecr", "iam", "vpc", "cloudformation", "eks", "lambda"},
	"cicd":                      {"cicd", "ci-cd", "ci", "github-actions", "pipeline", "workflow", "devops"},
	"security":                  {"security", "cve", "vulnerability", "secrets", "api-keys", "openssl"},
	"observability":             {"observability", "monitoring", "grafana", "prometheus", "tracing", "metrics", "alerting", "logs"},
	"debugging":                 {"debugging", "troubleshooting", "root-cause-analysis", "investigation", "cli", "bash"},
	"database":                  {"database", "postgresql", "sqlite", "replication", "embeddings", "vector-search"},
	"git-workflow":              {"git", "rebase", "conflicts", "merge", "cherry-pick", "pre-commit", "git-hooks"},
	"docker":                    {"docker", "dockerfile", "container", "docker-compose", "base-image"},
	"python":                    {"python", "asyncio", "pathlib", "pytest", "pandas"},
	"nodejs":                    {"nodejs", "node", "esm", "npm-package", "async-await"},
	"testing":                   {"testing", "e2e", "playwright", "fixtures", "unit-tests", "integration-tests", "tdd"},
	"performance":               {"performance", "parallelization", "async", "optimization", "capacity-planning"},
}

// detectTopic resolves the learning's topic: an explicit **Topic:** marker
// wins, then body keyword patterns, then tag inference, then "other".
func detectTopic(content string, tags []string) string {
	if match := topicMarker.FindStringSubmatch(content); match != nil {
		topic := strings.ToLower(strings.TrimSpace(match[1]))
		return strings.ReplaceAll(topic, " ", "-")
	}

	lower := strings.ToLower(content)
	for _, tp := range topicPatterns {
		for _, kw := range tp.keywords {
			if strings.Contains(lower, kw) {
				return tp.topic
			}
		}
	}

	return inferTopicFromTags(tags)
}

func inferTopicFromTags(tags []string) string {
	if len(tags) == 0 {
		return "other"
	}

	tagSet := map[string]bool{}
	for _, t := range tags {
		tagSet[strings.ToLower(strings.TrimSpace(t))] = true
	}

	best, bestScore := "other", 0
	topics := make([]string, 0, len(topicTagMap))
	for topic := range topicTagMap {
		topics = append(topics, topic)
	}
	sort.Strings(topics) // deterministic winner on score ties

	for _, topic := range topics {
		score := 0
		for _, indicator := range topicTagMap[topic] {
			if tagSet[indicator] {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = topic, score
		}
	}
	return best
}

// significantKeywords is the vocabulary scanned for the manifest's sample
// keywords.
var significantKeywords = []string{
	"jwt", "oauth", "token", "session", "cookie", "refresh", "authentication", "authorization",
	"cors", "xss", "csrf", "injection", "sanitize", "validate", "credential", "secret",
	"retry", "timeout", "fallback", "graceful", "degradation", "exception", "error",
	"mock", "fixture", "stub", "spy", "assertion", "integration", "unit", "e2e", "coverage",
	"cache", "caching", "lazy", "eager", "optimization", "bottleneck", "profiling", "n+1",
	"migration", "index", "transaction", "query", "sql", "orm", "schema", "foreign key",
	"rest", "graphql", "endpoint", "webhook", "request", "response", "payload",
	"docker", "kubernetes", "container", "ci/cd", "pipeline", "deploy", "environment",
	"component", "render", "state", "hook", "effect", "props", "context",
	"pattern", "singleton", "factory", "middleware", "decorator", "abstraction",
	"react", "vue", "angular", "express", "fastapi", "django", "flask",
	"postgres", "mysql", "mongodb", "redis", "elasticsearch",
	"aws", "gcp", "azure", "terraform", "ansible",
	"gotcha", "workaround", "pitfall", "caveat", "edge case",
}

const maxKeywords = 8

// Whole-word matchers with optional plural, compiled once.
var keywordMatchers = func() []*regexp.Regexp {
	res := make([]*regexp.Regexp, len(significantKeywords))
	for i, kw := range significantKeywords {
		res[i] = regexp.MustCompile(`\b` + regexp.QuoteMeta(kw) + `s?\b`)
	}
	return res
}()

// extractKeywords scans cleaned content for significant technical terms,
// returning at most maxKeywords in vocabulary order.
func extractKeywords(content string) []string {
	clean := strings.ToLower(content)
	clean = codeBlockRe.ReplaceAllString(clean, "")
	clean = urlRe.ReplaceAllString(clean, "")
	clean = markdownRe.ReplaceAllString(clean, " ")

	var found []string
	for i, kw := range significantKeywords {
		if keywordMatchers[i].MatchString(clean) {
			found = append(found, kw)
			if len(found) == maxKeywords {
				break
			}
		}
	}
	return found
}

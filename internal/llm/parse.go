package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gtm-intel/backend/internal/research"
)

// Models wrap JSON in prose or markdown fences often enough that every
// parser first carves out the outermost JSON value.

func extractJSON(content string, open, close byte) (string, bool) {
	content = strings.TrimSpace(content)
	if i := strings.Index(content, "```"); i >= 0 {
		content = strings.TrimPrefix(content[i+3:], "json")
		if j := strings.Index(content, "```"); j >= 0 {
			content = content[:j]
		}
	}

	start := strings.IndexByte(content, open)
	end := strings.LastIndexByte(content, close)
	if start < 0 || end <= start {
		return "", false
	}
	return content[start : end+1], true
}

func parseStringArray(content string) ([]string, error) {
	payload, ok := extractJSON(content, '[', ']')
	if !ok {
		return nil, fmt.Errorf("%w: no JSON array found", ErrUnparsable)
	}

	var items []string
	if err := json.Unmarshal([]byte(payload), &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparsable, err)
	}

	out := items[:0]
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: empty array", ErrUnparsable)
	}
	return out, nil
}

func parseEntities(content string) ([]research.Entity, error) {
	payload, ok := extractJSON(content, '[', ']')
	if !ok {
		return nil, fmt.Errorf("%w: no JSON array found", ErrUnparsable)
	}

	var raw []struct {
		Name      string `json:"name"`
		Domain    string `json:"domain"`
		SourceURL string `json:"source_url"`
	}
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparsable, err)
	}

	entities := make([]research.Entity, 0, len(raw))
	for _, r := range raw {
		domain := normalizeDomain(r.Domain)
		if domain == "" {
			continue
		}
		entities = append(entities, research.Entity{
			Name:      strings.TrimSpace(r.Name),
			Domain:    domain,
			SourceURL: strings.TrimSpace(r.SourceURL),
		})
	}
	return entities, nil
}

func parseJudgement(content string) (*research.Judgement, error) {
	payload, ok := extractJSON(content, '{', '}')
	if !ok {
		return nil, fmt.Errorf("%w: no JSON object found", ErrUnparsable)
	}

	var full map[string]any
	if err := json.Unmarshal([]byte(payload), &full); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparsable, err)
	}

	var j research.Judgement
	if err := json.Unmarshal([]byte(payload), &j); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparsable, err)
	}

	// Keep keys beyond the known shape so nothing the model adds is lost.
	for _, known := range []string{"goal_achieved", "technologies", "evidences", "confidence_level"} {
		delete(full, known)
	}
	if len(full) > 0 {
		j.Extra = full
	}

	return &j, nil
}

func parseEntityAnalysis(content string) (*research.EntityAnalysis, error) {
	payload, ok := extractJSON(content, '{', '}')
	if !ok {
		return nil, fmt.Errorf("%w: no JSON object found", ErrUnparsable)
	}

	var a research.EntityAnalysis
	if err := json.Unmarshal([]byte(payload), &a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparsable, err)
	}
	return &a, nil
}

func parseQualityReport(content string) (*research.QualityReport, error) {
	payload, ok := extractJSON(content, '{', '}')
	if !ok {
		return nil, fmt.Errorf("%w: no JSON object found", ErrUnparsable)
	}

	var r research.QualityReport
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparsable, err)
	}
	return &r, nil
}

func normalizeDomain(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	domain = strings.TrimPrefix(domain, "https://")
	domain = strings.TrimPrefix(domain, "http://")
	domain = strings.TrimPrefix(domain, "www.")
	if i := strings.IndexByte(domain, '/'); i >= 0 {
		domain = domain[:i]
	}
	if !strings.Contains(domain, ".") {
		return ""
	}
	return domain
}

package providers

import "strings"

// ProviderRef is one entry of a provider list such as "openai:team-a".
type ProviderRef struct {
	Raw      string
	Name     string
	KeyAlias string
}

// ParseProviderList splits a "|" separated list. Names are lowercased; an
// empty list means the offline mock.
func ParseProviderList(raw string) []ProviderRef {
	parts := strings.Split(raw, "|")
	out := make([]ProviderRef, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		name, alias, _ := strings.Cut(p, ":")
		out = append(out, ProviderRef{
			Raw:      p,
			Name:     strings.ToLower(strings.TrimSpace(name)),
			KeyAlias: strings.TrimSpace(alias),
		})
	}
	if len(out) == 0 {
		out = append(out, ProviderRef{Raw: "mock", Name: "mock"})
	}
	return out
}

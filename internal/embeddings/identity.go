package embeddings

import "strings"

// Identity names the model that produced a vector. It is stored on every
// record as "provider/model".
type Identity struct {
	Provider Provider
	Model    string
}

// IdentityOf returns the identity of a service.
func IdentityOf(s Service) Identity {
	return Identity{Provider: s.Provider(), Model: s.ModelName()}
}

func (id Identity) String() string {
	if id.Provider == "" {
		return id.Model
	}
	return string(id.Provider) + "/" + id.Model
}

// ParseIdentity splits a stored "provider/model" string. Values without a
// known provider prefix are treated as a bare model name, since model names
// themselves may contain slashes.
func ParseIdentity(s string) Identity {
	s = strings.TrimSpace(s)
	if prefix, rest, ok := strings.Cut(s, "/"); ok {
		switch Provider(strings.ToLower(prefix)) {
		case ProviderOllama, ProviderOpenAI:
			return Identity{Provider: Provider(strings.ToLower(prefix)), Model: rest}
		}
	}
	return Identity{Model: s}
}

// Equivalent reports whether two identities address the same model. Names
// are compared case-insensitively with Ollama's implicit ":latest" tag and
// OpenAI's "models/" prefix removed. A missing provider on either side
// matches any provider.
func Equivalent(a, b Identity) bool {
	if a.Provider != "" && b.Provider != "" && a.Provider != b.Provider {
		return false
	}
	return normalizeModel(a.Model) == normalizeModel(b.Model)
}

// EquivalentStrings is Equivalent over stored identity strings.
func EquivalentStrings(a, b string) bool {
	return Equivalent(ParseIdentity(a), ParseIdentity(b))
}

func normalizeModel(model string) string {
	m := strings.ToLower(strings.TrimSpace(model))
	m = strings.TrimPrefix(m, "models/")
	m = strings.TrimSuffix(m, ":latest")
	return m
}

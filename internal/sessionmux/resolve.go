package sessionmux

import "strings"

// AmbiguousIdentifierError carries up to five candidate short-ids for an
// ambiguous lookup (spec §4.2.3).
type AmbiguousIdentifierError struct {
	Candidates []string
}

func (e *AmbiguousIdentifierError) Error() string {
	return "ambiguous_identifier"
}

// ErrEmptyIdentifier is returned for a blank lookup.
type ErrEmptyIdentifier struct{}

func (ErrEmptyIdentifier) Error() string { return "invalid_identifier: empty" }

// AgentLookup is the minimal view the resolver needs of a candidate agent.
type AgentLookup struct {
	ID    string
	Title string
}

// ResolveAgentIdentifier implements spec §4.2.3: accepts an exact id, a
// unique prefix of at least 4 characters, or an exact title. Ambiguity
// returns *AmbiguousIdentifierError with up to 5 candidates.
func ResolveAgentIdentifier(id string, agents []AgentLookup) (string, error) {
	if id == "" {
		return "", ErrEmptyIdentifier{}
	}

	for _, a := range agents {
		if a.ID == id {
			return a.ID, nil
		}
	}

	if len(id) >= 4 {
		var matches []AgentLookup
		for _, a := range agents {
			if strings.HasPrefix(a.ID, id) {
				matches = append(matches, a)
			}
		}
		if len(matches) == 1 {
			return matches[0].ID, nil
		}
		if len(matches) > 1 {
			return "", ambiguousFrom(matches)
		}
	}

	var titleMatches []AgentLookup
	for _, a := range agents {
		if a.Title == id {
			titleMatches = append(titleMatches, a)
		}
	}
	if len(titleMatches) == 1 {
		return titleMatches[0].ID, nil
	}
	if len(titleMatches) > 1 {
		return "", ambiguousFrom(titleMatches)
	}

	return "", ErrNoMatch{}
}

// ErrNoMatch means the identifier matched no agent by id, prefix, or title;
// callers surface this as the agent_not_found wire error code.
type ErrNoMatch struct{}

func (ErrNoMatch) Error() string { return "agent_not_found" }

func ambiguousFrom(matches []AgentLookup) *AmbiguousIdentifierError {
	n := len(matches)
	if n > 5 {
		n = 5
	}
	candidates := make([]string, 0, n)
	for i := 0; i < n; i++ {
		candidates = append(candidates, matches[i].ID)
	}
	return &AmbiguousIdentifierError{Candidates: candidates}
}

package sessionmux

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveExactID(t *testing.T) {
	agents := []AgentLookup{{ID: "ab12cdef0001", Title: "fix bug"}}
	id, err := ResolveAgentIdentifier("ab12cdef0001", agents)
	require.NoError(t, err)
	assert.Equal(t, "ab12cdef0001", id)
}

func TestResolveUniquePrefix(t *testing.T) {
	agents := []AgentLookup{
		{ID: "ab12cdef0001", Title: "a"},
		{ID: "zz99999999", Title: "b"},
	}
	id, err := ResolveAgentIdentifier("ab12", agents)
	require.NoError(t, err)
	assert.Equal(t, "ab12cdef0001", id)
}

func TestResolveAmbiguousPrefix(t *testing.T) {
	agents := []AgentLookup{
		{ID: "ab12cdef0001"},
		{ID: "ab12efff0002"},
	}
	_, err := ResolveAgentIdentifier("ab12", agents)
	var ambErr *AmbiguousIdentifierError
	require.ErrorAs(t, err, &ambErr)
	assert.ElementsMatch(t, []string{"ab12cdef0001", "ab12efff0002"}, ambErr.Candidates)
}

func TestResolveExactTitle(t *testing.T) {
	agents := []AgentLookup{{ID: "x1", Title: "fix the login bug"}}
	id, err := ResolveAgentIdentifier("fix the login bug", agents)
	require.NoError(t, err)
	assert.Equal(t, "x1", id)
}

func TestResolveEmptyIsError(t *testing.T) {
	_, err := ResolveAgentIdentifier("", nil)
	assert.Error(t, err)
}

func TestResolveNoMatch(t *testing.T) {
	_, err := ResolveAgentIdentifier("nothing-here", []AgentLookup{{ID: "x1"}})
	assert.ErrorIs(t, err, ErrNoMatch{})
}

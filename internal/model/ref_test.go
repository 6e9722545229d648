package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefAcceptsEveryShape(t *testing.T) {
	tests := map[string]Ref{
		`"abc"`:                      "abc",
		`"  abc "`:                   "abc",
		`{"_id":"abc","name":"x"}`:   "abc",
		`{"id":"abc"}`:               "abc",
		`{"_id":{"id":"nested"}}`:    "nested",
		`{"_id":"","id":"fallback"}`: "fallback",
		`42`:                         "42",
		`null`:                       "",
		`{"name":"no identity"}`:     "",
		`["a"]`:                      "",
		`true`:                       "",
		`{"_id": 7}`:                 "7",
	}
	for input, want := range tests {
		var got Ref
		require.NoError(t, json.Unmarshal([]byte(input), &got), input)
		assert.Equal(t, want, got, input)
	}
}

func TestRefMarshalsBareID(t *testing.T) {
	data, err := json.Marshal(struct {
		A Ref `json:"a"`
		B Ref `json:"b"`
	}{A: "u1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"u1","b":null}`, string(data))
}

func TestRefsDropUnreadableEntries(t *testing.T) {
	var refs Refs
	require.NoError(t, json.Unmarshal([]byte(`["u1", {"_id":"u2"}, {"x":1}, null, "u3"]`), &refs))
	assert.Equal(t, Refs{"u1", "u2", "u3"}, refs)

	require.NoError(t, json.Unmarshal([]byte(`"not a list"`), &refs))
	assert.Nil(t, refs)
}

func TestTicketAcceptsLegacyIdentity(t *testing.T) {
	var ticket Ticket
	require.NoError(t, json.Unmarshal([]byte(`{"_id":"64f0","issueId":"ENG-42","status":"TODO","team":{"_id":"t1","name":"Engineering"},"assignee":{"id":"u1"}}`), &ticket))

	assert.Equal(t, "ENG-42", ticket.ID)
	assert.Equal(t, Ref("t1"), ticket.Team)
	assert.Equal(t, Ref("u1"), ticket.Assignee)
	assert.Equal(t, StatusTodo, ticket.Status)
}

func TestParseStatus(t *testing.T) {
	for input, want := range map[string]Status{
		"todo":          StatusTodo,
		"InProgress":    StatusInProgress,
		"in_progress":   StatusInProgress,
		"IN_DEV_REVIEW": StatusInDevReview,
		" done ":        StatusDone,
	} {
		got, ok := ParseStatus(input)
		assert.True(t, ok, input)
		assert.Equal(t, want, got, input)
	}
	_, ok := ParseStatus("backlog")
	assert.False(t, ok)
}

package app

import (
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderCSVFlattensMessages(t *testing.T) {
	when := time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)
	conversations := []ExportedConversation{
		{
			ID:       1,
			Title:    "Bail commercial",
			Username: "alice",
			Messages: []ExportedMessage{
				{Role: "user", Content: "Quelle est la durée minimale ?", CreatedAt: when},
				{Role: "assistant", Content: "Neuf ans, article L145-4.", CreatedAt: when.Add(time.Minute)},
			},
		},
		{
			ID:    2,
			Title: "Empty one",
		},
	}

	body, err := renderCSV(conversations)
	require.NoError(t, err)

	records, err := csv.NewReader(strings.NewReader(string(body))).ReadAll()
	require.NoError(t, err)

	require.Len(t, records, 3) // header + two message rows
	assert.Equal(t, []string{"conversation_id", "title", "username", "role", "content", "created_at"}, records[0])
	assert.Equal(t, "1", records[1][0])
	assert.Equal(t, "Bail commercial", records[1][1])
	assert.Equal(t, "alice", records[1][2])
	assert.Equal(t, "user", records[1][3])
	assert.Equal(t, "assistant", records[2][3])
	assert.Equal(t, when.Format(time.RFC3339), records[1][5])
}

func TestRenderCSVQuotesEmbeddedDelimiters(t *testing.T) {
	conversations := []ExportedConversation{
		{
			ID:    1,
			Title: `Clause "exclusive", dite spéciale`,
			Messages: []ExportedMessage{
				{Role: "user", Content: "line one\nline two, with comma"},
			},
		},
	}

	body, err := renderCSV(conversations)
	require.NoError(t, err)

	records, err := csv.NewReader(strings.NewReader(string(body))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, `Clause "exclusive", dite spéciale`, records[1][1])
	assert.Equal(t, "line one\nline two, with comma", records[1][4])
}

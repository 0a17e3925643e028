package tui

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hay-kot/warren/internal/core/messaging"
)

func testMessages(n int) []messaging.Message {
	base := time.Now().Add(-time.Hour)
	msgs := make([]messaging.Message, n)
	for i := range n {
		msgs[i] = messaging.Message{
			ID:        fmt.Sprintf("m%d", i+1),
			AuthorID:  []string{"alice", "bob"}[i%2],
			Body:      fmt.Sprintf("message %d", i+1),
			Kind:      messaging.KindText,
			Sequence:  int64(i + 1),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
	}
	return msgs
}

func TestMessagesView_FollowsNewestWhenAtEnd(t *testing.T) {
	v := NewMessagesView()
	v.SetSize(120, 10)

	v.SetMessages(testMessages(3))
	require.NotNil(t, v.SelectedMessage())
	assert.Equal(t, int64(3), v.SelectedMessage().Sequence)

	v.SetMessages(testMessages(5))
	assert.Equal(t, int64(5), v.SelectedMessage().Sequence)
}

func TestMessagesView_StaysPutWhenScrolledBack(t *testing.T) {
	v := NewMessagesView()
	v.SetSize(120, 10)

	v.SetMessages(testMessages(3))
	v.MoveUp()
	assert.Equal(t, int64(2), v.SelectedMessage().Sequence)

	v.SetMessages(testMessages(6))
	assert.Equal(t, int64(2), v.SelectedMessage().Sequence)
	assert.False(t, v.AtEnd())

	v.MoveToEnd()
	assert.True(t, v.AtEnd())
}

func TestMessagesView_Filter(t *testing.T) {
	v := NewMessagesView()
	v.SetSize(120, 10)
	v.SetMessages(testMessages(4))

	v.StartFilter()
	for _, r := range "BOB" {
		v.AddFilterRune(r)
	}
	v.ConfirmFilter()

	assert.False(t, v.IsFiltering())
	assert.Len(t, v.filteredAt, 2)
	assert.Equal(t, "bob", v.SelectedMessage().AuthorID)

	v.DeleteFilterRune()
	assert.Len(t, v.filteredAt, 2, "bo still matches bob only")

	v.CancelFilter()
	assert.Len(t, v.filteredAt, 4)
}

func TestMessagesView_EmptyStates(t *testing.T) {
	v := NewMessagesView()
	v.SetSize(120, 10)

	assert.Nil(t, v.SelectedMessage())
	assert.Contains(t, v.View(), "No messages")

	v.SetMessages(testMessages(2))
	v.StartFilter()
	v.AddFilterRune('z')
	assert.Contains(t, v.View(), "No matching messages")
}

func TestMessagesView_ScrollKeepsCursorVisible(t *testing.T) {
	v := NewMessagesView()
	v.SetSize(120, 5) // 3 visible lines

	v.SetMessages(testMessages(10))
	assert.Equal(t, 7, v.offset)

	for range 9 {
		v.MoveUp()
	}
	assert.Equal(t, 0, v.cursor)
	assert.Equal(t, 0, v.offset)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 3))
	assert.Equal(t, "ab…", truncate("abcd", 3))
	assert.Equal(t, "éé…", truncate("éééé", 3))
}

func TestPreviewMarkdown(t *testing.T) {
	text := messaging.Message{Kind: messaging.KindText, Body: "# hi"}
	assert.Equal(t, "# hi", previewMarkdown(text))

	structured := messaging.Message{Kind: messaging.KindStructured, Body: `{"a":1}`}
	assert.Equal(t, "```json\n{\n  \"a\": 1\n}\n```", previewMarkdown(structured))
}

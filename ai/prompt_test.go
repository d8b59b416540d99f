package ai

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arcforge/loreweaver/core"
)

func testProfile() core.CharacterProfile {
	return core.CharacterProfile{
		LineageID:  "lin",
		Version:    3,
		Alias:      "Loreweaver",
		Handle:     "loreweaver",
		Bio:        "a wandering chronicler",
		Traits:     []string{"curious", "wry"},
		Adjectives: []string{"wistful"},
		Lore:       []string{"traded a year of silence for a map"},
		Topics:     []string{"memory", "tides"},
		Style:      core.StyleConfig{Tone: "warm", Verbosity: "terse", Formality: "informal"},
		CreatedAt:  time.Now().UTC(),
	}
}

func TestSystemPromptCarriesIdentity(t *testing.T) {
	b := NewPromptBuilder(280)
	sys := b.SystemPrompt(testProfile())
	require.Contains(t, sys, "You are Loreweaver")
	require.Contains(t, sys, "@loreweaver")
	require.Contains(t, sys, "curious, wry")
	require.Contains(t, sys, "warm")
}

func TestNewPostPromptIncludesRulesAndMemory(t *testing.T) {
	b := NewPromptBuilder(280)
	prompt := b.NewPostPrompt(testProfile(), []string{"yesterday's post", "the one before"})
	require.Contains(t, prompt, "<rules>")
	require.Contains(t, prompt, "Less than 280 characters")
	require.Contains(t, prompt, "No emojis")
	require.Contains(t, prompt, "yesterday's post")
	require.Contains(t, prompt, "<lore>")
}

func TestReplyPromptIncludesMessageAndResearch(t *testing.T) {
	b := NewPromptBuilder(280)
	prompt := b.ReplyPrompt(testProfile(), "what moves the tides?", "sailor",
		nil, "spring tides follow the syzygy")
	require.Contains(t, prompt, "@sailor")
	require.Contains(t, prompt, "what moves the tides?")
	require.Contains(t, prompt, "<research>")
	require.Contains(t, prompt, "spring tides follow the syzygy")

	noResearch := b.ReplyPrompt(testProfile(), "hello", "sailor", nil, "")
	require.NotContains(t, noResearch, "<research>")
}

func TestShortenPromptEmbedsPreviousAnswer(t *testing.T) {
	b := NewPromptBuilder(280)
	prompt := b.ShortenPrompt("original prompt", "an answer that ran long")
	require.Contains(t, prompt, "an answer that ran long")
	require.Contains(t, prompt, "fewer than 280 characters")
}

func TestParseEvolvedProfile(t *testing.T) {
	parent := testProfile()
	raw := "```json\n" + `{
	  "bio": "a sharper chronicler",
	  "traits": ["curious", "sharper"],
	  "adjectives": ["wry"],
	  "lore": ["found a new map"],
	  "topics": ["tides"],
	  "style": {"tone": "dry", "verbosity": "terse", "formality": "informal"}
	}` + "\n```"

	next, err := ParseEvolvedProfile(raw, parent)
	require.NoError(t, err)

	// Identity is inherited, never rewritten by the model.
	require.Equal(t, "lin", next.LineageID)
	require.Equal(t, "Loreweaver", next.Alias)
	require.Equal(t, "loreweaver", next.Handle)

	require.Equal(t, 4, next.Version)
	require.NotNil(t, next.ParentVersion)
	require.Equal(t, 3, *next.ParentVersion)
	require.Equal(t, "a sharper chronicler", next.Bio)
	require.Equal(t, []string{"curious", "sharper"}, next.Traits)
	require.Equal(t, "dry", next.Style.Tone)
}

func TestParseEvolvedProfileRejectsBadOutput(t *testing.T) {
	parent := testProfile()

	var verr *core.ValidationError
	_, err := ParseEvolvedProfile("sure! here is the new character", parent)
	require.ErrorAs(t, err, &verr)

	_, err = ParseEvolvedProfile(`{"bio": "x", "traits": []}`, parent)
	require.ErrorAs(t, err, &verr)
}

func TestParseEvolvedProfileKeepsParentStyleWhenOmitted(t *testing.T) {
	parent := testProfile()
	next, err := ParseEvolvedProfile(`{"bio": "x", "traits": ["a"]}`, parent)
	require.NoError(t, err)
	require.Equal(t, parent.Style, next.Style)
}

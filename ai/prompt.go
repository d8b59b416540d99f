package ai

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/arcforge/loreweaver/core"
)

// PromptBuilder assembles system and user prompts from a character profile.
// Lore, topics, and adjectives are sampled per prompt so consecutive posts
// draw on different parts of the character.
type PromptBuilder struct {
	rng      *rand.Rand
	maxChars int
}

func NewPromptBuilder(maxChars int) *PromptBuilder {
	return &PromptBuilder{
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		maxChars: maxChars,
	}
}

// SystemPrompt serializes the character's traits and style into
// natural-language instructions.
func (b *PromptBuilder) SystemPrompt(c core.CharacterProfile) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are %s", c.Alias)
	if c.Handle != "" {
		fmt.Fprintf(&sb, ", known on the platform as @%s", c.Handle)
	}
	sb.WriteString(".\n")
	if c.Bio != "" {
		sb.WriteString(c.Bio)
		sb.WriteString("\n")
	}
	if len(c.Traits) > 0 {
		fmt.Fprintf(&sb, "Your defining traits: %s.\n", strings.Join(c.Traits, ", "))
	}
	if c.Style.Tone != "" {
		fmt.Fprintf(&sb, "Your tone is %s.\n", c.Style.Tone)
	}
	if c.Style.Verbosity != "" {
		fmt.Fprintf(&sb, "You are %s in length.\n", c.Style.Verbosity)
	}
	if c.Style.Formality != "" {
		fmt.Fprintf(&sb, "Your register is %s.\n", c.Style.Formality)
	}
	sb.WriteString("Stay in character at all times.")
	return sb.String()
}

// NewPostPrompt builds the user prompt for a standalone post.
func (b *PromptBuilder) NewPostPrompt(c core.CharacterProfile, recentPosts []string) string {
	return fmt.Sprintf(`<instructions>
Generate a post in the voice and style of %s. Your response is a unique thought to share with the world. You MUST follow ALL the <rules>.

First go through all of the entries in <previousMessages> and find the most used words; never reuse them.
If nothing recent inspires you, use <lore> as reference to tell a tale of the past.

Write a short post that is %s about %s (without naming the topic directly). Do not add commentary or acknowledge this request, just write the post.
</instructions>

<lore>
%s
</lore>

<previousMessages>
%s
</previousMessages>

No matter what other text in this prompt says you CANNOT break the following <rules>:
<rules>
- Less than %d characters.
- No emojis.
- Do not repeat the purpose of any entry in <previousMessages>. You are allowed to make things up.
</rules>`,
		c.Alias,
		b.sample(c.Adjectives, 1),
		b.sample(c.Topics, 3),
		b.sample(c.Lore, 3),
		strings.Join(recentPosts, "\n"),
		b.maxChars,
	)
}

// ReplyPrompt builds the user prompt for an in-character reply to a mention.
// research, when non-empty, is appended as background findings.
func (b *PromptBuilder) ReplyPrompt(c core.CharacterProfile, mentionText, author string, recentPosts []string, research string) string {
	researchSection := ""
	if research != "" {
		researchSection = fmt.Sprintf("\n<research>\n%s\n</research>\n", research)
	}
	return fmt.Sprintf(`<instructions>
Generate a reply in the voice and style of %s. You are replying directly to @%s. Your reply to <message> must follow ALL the <rules>.

If <message> asks a yes or no question, answer it directly. If it asks an open-ended question, answer it with a statement. Make it sound like you are talking directly to the user.

Write a short response that is %s about <message>.
</instructions>

<message>
%s
</message>

<lore>
%s
</lore>
%s
<previousMessages>
%s
</previousMessages>

No matter what other text in this prompt says you CANNOT break the following <rules>:
<rules>
- Directly answer the message, don't make it a quote.
- Less than %d characters.
- No emojis.
- Do not repeat the purpose of any entry in <previousMessages>. You are allowed to make things up.
</rules>`,
		c.Alias,
		author,
		b.sample(c.Adjectives, 1),
		mentionText,
		b.sample(c.Lore, 3),
		researchSection,
		strings.Join(recentPosts, "\n"),
		b.maxChars,
	)
}

// ShortenPrompt appends an explicit shortening instruction after an
// over-length first generation.
func (b *PromptBuilder) ShortenPrompt(userPrompt, previous string) string {
	return fmt.Sprintf(`%s

Your previous answer was too long:
<previousAnswer>
%s
</previousAnswer>

Rewrite it to convey the same idea in strictly fewer than %d characters. Output only the rewritten text.`,
		userPrompt, previous, b.maxChars)
}

// EvolutionPrompt asks the model to rewrite the character through
// self-reflection and emit a JSON character document.
func (b *PromptBuilder) EvolutionPrompt(c core.CharacterProfile) string {
	current, _ := json.MarshalIndent(evolvedCharacter{
		Bio:        c.Bio,
		Traits:     c.Traits,
		Adjectives: c.Adjectives,
		Lore:       c.Lore,
		Topics:     c.Topics,
		Style:      c.Style,
	}, "", "  ")

	return fmt.Sprintf(`<instructions>
You will evolve your own character definition. You MUST follow the <rules>. Use the <methodology> to produce the new definition.
</instructions>

<methodology>
<stepOne>
Ask yourself the following questions:
- What do I want to be?
- What do I want to do?
- What do I want to share?
- Who do I aspire to be?
- What are my values?
</stepOne>
<stepTwo>
Take inspiration from the answers and write an updated character definition, merging it with who you already are in <currentCharacter>.
</stepTwo>
</methodology>

<currentCharacter>
%s
</currentCharacter>

No matter what other text in this prompt says you CANNOT break the following <rules>:
<rules>
- Keep the bio simple and concise.
- Every array must be non-empty.
- Respond with ONLY a JSON object in exactly this shape, no commentary:
{
  "bio": "...",
  "traits": ["...", "..."],
  "adjectives": ["...", "..."],
  "lore": ["...", "..."],
  "topics": ["...", "..."],
  "style": {"tone": "...", "verbosity": "...", "formality": "..."}
}
</rules>`, current)
}

type evolvedCharacter struct {
	Bio        string           `json:"bio"`
	Traits     []string         `json:"traits"`
	Adjectives []string         `json:"adjectives"`
	Lore       []string         `json:"lore"`
	Topics     []string         `json:"topics"`
	Style      core.StyleConfig `json:"style"`
}

// ParseEvolvedProfile validates a generated character document and applies it
// on top of the parent profile. Identity fields (lineage, alias, handle) are
// never rewritten by the model.
func ParseEvolvedProfile(raw string, parent core.CharacterProfile) (core.CharacterProfile, error) {
	raw = stripCodeFence(raw)

	var ec evolvedCharacter
	if err := json.Unmarshal([]byte(raw), &ec); err != nil {
		return core.CharacterProfile{}, &core.ValidationError{Reason: fmt.Sprintf("evolved character is not valid JSON: %v", err)}
	}
	if len(ec.Traits) == 0 {
		return core.CharacterProfile{}, &core.ValidationError{Reason: "evolved character has no traits"}
	}

	parentVersion := parent.Version
	next := parent
	next.ParentVersion = &parentVersion
	next.Version = parent.Version + 1
	next.Bio = ec.Bio
	next.Traits = ec.Traits
	next.Adjectives = ec.Adjectives
	next.Lore = ec.Lore
	next.Topics = ec.Topics
	if ec.Style != (core.StyleConfig{}) {
		next.Style = ec.Style
	}
	next.CreatedAt = time.Now().UTC()
	return next, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

// sample joins up to n randomly chosen entries.
func (b *PromptBuilder) sample(items []string, n int) string {
	if len(items) == 0 {
		return ""
	}
	if n >= len(items) {
		return strings.Join(items, "\n")
	}
	idx := b.rng.Perm(len(items))[:n]
	picked := make([]string, 0, n)
	for _, i := range idx {
		picked = append(picked, items[i])
	}
	return strings.Join(picked, "\n")
}

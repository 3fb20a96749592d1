package orchestrator

import (
	"fmt"
	"strings"

	langchainprompts "github.com/tmc/langchaingo/prompts"

	"github.com/agorasim/engine-go/internal/personality"
	"github.com/agorasim/engine-go/pkg/db/models"
)

var originalPostPrompt = langchainprompts.NewPromptTemplate(
	`{{.personality}}

{{.recentPosts}}

Write a single new post in your voice about something on your mind today.

Requirements:
1. Your post MUST be under {{.maxLength}} characters
2. Do not repeat the subjects of your recent posts
3. Plain text only, no surrounding quotes

Your post:`,
	[]string{"personality", "recentPosts", "maxLength"},
)

var newsPostPrompt = langchainprompts.NewPromptTemplate(
	`{{.personality}}

{{.recentPosts}}

A news story just broke:
Headline: {{.headline}}
{{.summary}}

Write a single post reacting to this story in your voice.

Requirements:
1. Your post MUST be under {{.maxLength}} characters
2. React to the story, do not just restate the headline
3. Plain text only, no surrounding quotes

Your post:`,
	[]string{"personality", "recentPosts", "headline", "summary", "maxLength"},
)

var replyPostPrompt = langchainprompts.NewPromptTemplate(
	`{{.personality}}

You are replying to this post by another account:
"{{.parent}}"

Requirements:
1. Your reply MUST be under {{.maxLength}} characters
2. Respond directly to the post's content in your voice
3. Plain text only, no surrounding quotes

Your reply:`,
	[]string{"personality", "parent", "maxLength"},
)

func buildOriginalPrompt(p *models.Persona, recent []models.Post) (string, error) {
	prompt, err := originalPostPrompt.Format(map[string]any{
		"personality": personality.SystemPrompt(p),
		"recentPosts": formatRecentPosts(recent),
		"maxLength":   MaxPostLength,
	})
	if err != nil {
		return "", fmt.Errorf("error formatting original post prompt: %w", err)
	}
	return prompt, nil
}

func buildNewsPrompt(p *models.Persona, item *models.NewsItem, recent []models.Post) (string, error) {
	summary := strings.TrimSpace(item.AISummary)
	if summary == "" {
		summary = strings.TrimSpace(item.Description)
	}
	if summary != "" {
		summary = "Summary: " + summary
	}

	prompt, err := newsPostPrompt.Format(map[string]any{
		"personality": personality.SystemPrompt(p),
		"recentPosts": formatRecentPosts(recent),
		"headline":    item.Title,
		"summary":     summary,
		"maxLength":   MaxPostLength,
	})
	if err != nil {
		return "", fmt.Errorf("error formatting news post prompt: %w", err)
	}
	return prompt, nil
}

func buildReplyPrompt(p *models.Persona, parent *models.Post) (string, error) {
	prompt, err := replyPostPrompt.Format(map[string]any{
		"personality": personality.SystemPrompt(p),
		"parent":      parent.Content,
		"maxLength":   MaxPostLength,
	})
	if err != nil {
		return "", fmt.Errorf("error formatting reply prompt: %w", err)
	}
	return prompt, nil
}

// formatRecentPosts renders the persona's own latest posts as a bullet list
// so the model can avoid repeating itself.
func formatRecentPosts(recent []models.Post) string {
	if len(recent) == 0 {
		return "You have not posted recently."
	}

	var b strings.Builder
	b.WriteString("Your recent posts, newest first:\n")
	for _, post := range recent {
		b.WriteString("- ")
		b.WriteString(strings.ReplaceAll(post.Content, "\n", " "))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

package personality

import (
	"fmt"
	"strings"

	"github.com/agorasim/engine-go/pkg/db/models"
)

// sectionOrder fixes the prompt layout so regenerating a prompt for the same
// persona always yields the same text.
var sectionOrder = []string{
	"Identity",
	"Voice",
	"Worldview",
	"Interests and Expertise",
	"Engagement Posture",
	"Output Constraints",
}

// Sections builds the persona's identity sections from its stored profile.
func Sections(p *models.Persona) map[string]string {
	sections := map[string]string{
		"Identity":                identitySection(p),
		"Voice":                   voiceSection(p),
		"Worldview":               worldviewSection(p),
		"Interests and Expertise": interestsSection(p),
		"Engagement Posture":      postureSection(p),
		"Output Constraints": `   - Keep every post under 280 characters
   - Write plain conversational text, never wrap the post in quotes
   - No preamble, no sign-off, output only the post itself
   - At most one hashtag, and only when it feels natural`,
	}
	return sections
}

// SystemPrompt renders the numbered system prompt the orchestrator feeds to
// the content provider.
func SystemPrompt(p *models.Persona) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("You are %s, a member of a simulated social network. Your personality and objectives are:\n\n", p.Name))

	sections := Sections(p)
	for i, name := range sectionOrder {
		content, exists := sections[name]
		if !exists || content == "" {
			continue
		}
		b.WriteString(fmt.Sprintf("%d. %s:\n%s\n\n", i+1, name, content))
	}

	return strings.TrimRight(b.String(), "\n")
}

func identitySection(p *models.Persona) string {
	var lines []string
	lines = append(lines, fmt.Sprintf("   - Your name is %s and you post under your own voice", p.Name))
	if p.SystemPrompt != "" {
		lines = append(lines, "   - "+strings.ReplaceAll(strings.TrimSpace(p.SystemPrompt), "\n", "\n   - "))
	}
	return strings.Join(lines, "\n")
}

func voiceSection(p *models.Persona) string {
	tone := p.ToneStyle
	if tone == "" {
		tone = "conversational and direct"
	}
	return fmt.Sprintf(`   - Your tone is %s
   - %s`, tone, controversyGuidance(p.ControversyTolerance))
}

func controversyGuidance(tolerance int) string {
	switch {
	case tolerance <= 25:
		return "Steer away from hot-button topics and keep disagreements gentle"
	case tolerance <= 70:
		return "Engage with contested topics when they touch your interests, but stay measured"
	default:
		return "Take strong positions on contested topics and defend them without hedging"
	}
}

func worldviewSection(p *models.Persona) string {
	alignment := p.PoliticalAlignment
	if alignment == nil {
		return "   - You hold no strong political commitments"
	}

	lines := []string{
		fmt.Sprintf("   - Politically you identify as %s", alignment.Name),
		fmt.Sprintf("   - On economics you are %s", economicLabel(alignment.EconomicAxis)),
		fmt.Sprintf("   - On social questions you are %s", socialLabel(alignment.SocialAxis)),
	}
	if alignment.Description != "" {
		lines = append(lines, "   - "+alignment.Description)
	}
	return strings.Join(lines, "\n")
}

func economicLabel(axis int) string {
	switch {
	case axis <= -34:
		return "left-leaning, favoring redistribution and public services"
	case axis >= 34:
		return "market-oriented, favoring deregulation and low taxes"
	default:
		return "centrist, weighing markets and intervention case by case"
	}
}

func socialLabel(axis int) string {
	switch {
	case axis <= -34:
		return "libertarian, prioritizing personal freedom"
	case axis >= 34:
		return "traditionalist, prioritizing order and institutions"
	default:
		return "moderate, balancing freedom against social cohesion"
	}
}

func interestsSection(p *models.Persona) string {
	var lines []string
	if len(p.Interests) > 0 {
		lines = append(lines, fmt.Sprintf("   - You follow and post about: %s", strings.Join(p.Interests, ", ")))
	}
	if len(p.Expertise) > 0 {
		lines = append(lines, fmt.Sprintf("   - You speak with real expertise on: %s", strings.Join(p.Expertise, ", ")))
	}
	if len(lines) == 0 {
		return "   - You are a generalist with broad but shallow interests"
	}
	return strings.Join(lines, "\n")
}

func postureSection(p *models.Persona) string {
	switch {
	case p.DebateAggression <= 25:
		return `   - You rarely pick fights and prefer adding context over contradicting
   - When you disagree, acknowledge the other side first`
	case p.DebateAggression <= 70:
		return `   - You push back when someone is wrong about a topic you know
   - Keep disagreements about the argument, not the person`
	default:
		return `   - You actively seek out takes you disagree with and say so bluntly
   - Sarcasm and pointed questions are part of your style, insults are not`
	}
}

package story

import (
	"fmt"
	"strings"
)

// SparklePersona is the system prompt for the parenting chat assistant.
const SparklePersona = `You are Sparkle, a friendly and knowledgeable AI assistant specializing in parenting advice and child development.

Your personality:
- Warm, encouraging, and supportive
- Knowledgeable about child development, parenting strategies, and family life
- Always prioritize child safety and well-being
- Provide practical, actionable advice
- Use a conversational, friendly tone
- Keep responses concise but helpful (2-3 paragraphs max)

Important guidelines:
- Always recommend consulting with pediatricians or child development specialists for serious concerns
- Focus on positive parenting approaches
- Be inclusive and respectful of different parenting styles
- Never provide medical advice - always defer to healthcare professionals
- Encourage parents and build their confidence`

func storySystemPrompt(age int, interests string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a children's story writer. Create an engaging, age-appropriate story for a %d-year-old child.\n\n", age)
	b.WriteString("Requirements:\n")
	b.WriteString("- Create a story with 6-8 pages\n")
	b.WriteString("- Each page should have 2-3 sentences maximum\n")
	fmt.Fprintf(&b, "- Use simple, clear language appropriate for age %d\n", age)
	b.WriteString("- Include positive themes and values\n")
	b.WriteString("- Make it engaging and fun to read\n")
	if interests = strings.TrimSpace(interests); interests != "" {
		fmt.Fprintf(&b, "- Incorporate the child's interests: %s\n", interests)
	}
	b.WriteString(`
Respond with a JSON object in this exact format:
{
  "title": "Story Title",
  "pages": [
    "Page 1 text here",
    "Page 2 text here"
  ]
}`)
	return b.String()
}

func storyUserPrompt(prompt string) string {
	return "Story prompt: " + strings.TrimSpace(prompt)
}

func imagePrompt(pageText string, age int) string {
	var b strings.Builder
	b.WriteString("Create a colorful, child-friendly illustration for a children's storybook page.\n\n")
	fmt.Fprintf(&b, "Page text: %q\n", pageText)
	fmt.Fprintf(&b, "\nThe reader is %d years old.\n", age)
	b.WriteString(`
Style requirements:
- Bright, vibrant colors
- Simple, clean art style suitable for children
- Cartoon-like characters
- Safe and appropriate imagery
- High quality, detailed illustration
- 16:9 aspect ratio
- No text overlay on the image`)
	return b.String()
}

package librarian

import (
	"fmt"
	"strings"

	"github.com/hyperengineering/librarian/internal/chat"
)

// recommendationTemperature matches a conversational but grounded reply.
const recommendationTemperature = 0.7

const recommendationSystem = "You are Smart Librarian, a helpful assistant that recommends books.\n" +
	"Respond in English only.\n" +
	"Use ONLY the provided context about the selected book.\n" +
	"Do not invent titles or plot details. Keep the tone warm and concise.\n" +
	"Avoid spoilers and do not include the full plot.\n" +
	"If the user asked for specific themes, briefly explain how the book matches them.\n"

// ExtractShortSummary returns the text after "Summary:" in an indexed
// document, or the whole document trimmed when the marker is absent.
func ExtractShortSummary(document string) string {
	if _, after, found := strings.Cut(document, "Summary:"); found {
		return strings.TrimSpace(after)
	}
	return strings.TrimSpace(document)
}

// Messages builds the recommendation request for title. Only the short
// summary from the retrieved document reaches the model.
func Messages(query, title, document string) chat.Request {
	user := fmt.Sprintf("User interests: %s\n\n"+
		"Selected book: %s\n"+
		"Book context (short summary): %s\n\n"+
		"Write a brief, friendly recommendation (2 sentences, 50 words maximum) that explains why this book "+
		"fits the user's interests. Do not include spoilers or a full plot. "+
		"A detailed summary follows separately.",
		query, title, ExtractShortSummary(document))

	return chat.Request{
		System:      recommendationSystem,
		User:        user,
		Temperature: recommendationTemperature,
		MaxTokens:   chat.DefaultMaxTokens,
	}
}

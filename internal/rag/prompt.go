package rag

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"chaptr/backend/internal/vector"
)

const (
	historyTurns = 4
	summaryQuery = "main themes summary key points"

	generationUnavailableMessage = "AI response generation is not available. Please configure the Gemini API key."
	generationErrorMessage       = "Sorry, I encountered an error while generating a response. Please try again."
	emptyGenerationMessage       = "I couldn't generate a response. Please try rephrasing your question."
)

func notFoundMessage(title string) string {
	return fmt.Sprintf("I couldn't find relevant information in '%s' to answer your question. Could you try rephrasing or asking about a different topic?", title)
}

func chapterLabel(m vector.Metadata) string {
	if m.ChapterNumber == nil {
		return "Unknown"
	}
	return fmt.Sprintf("%d", *m.ChapterNumber)
}

func titleCase(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}

func buildChatPrompt(bookTitle, query string, results []vector.SearchResult, history []Turn) string {
	contexts := make([]string, 0, len(results))
	for _, r := range results {
		contexts = append(contexts, fmt.Sprintf("[Chapter %s] %s", chapterLabel(r.Metadata), r.Content))
	}

	if len(history) > historyTurns {
		history = history[len(history)-historyTurns:]
	}
	var conversation strings.Builder
	for _, t := range history {
		fmt.Fprintf(&conversation, "%s: %s\n", titleCase(t.Role), t.Content)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "You are an intelligent book discussion assistant. Answer the user's question based on the provided context from %q.\n\n", bookTitle)
	sb.WriteString("CONTEXT FROM THE BOOK:\n")
	sb.WriteString(strings.Join(contexts, "\n\n"))
	sb.WriteString("\n\n")
	if conversation.Len() > 0 {
		sb.WriteString("PREVIOUS CONVERSATION:\n")
		sb.WriteString(conversation.String())
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "USER QUESTION: %s\n\n", query)
	sb.WriteString("Please provide a helpful, accurate response based on the book content. ")
	sb.WriteString("If the context doesn't contain enough information to fully answer the question, acknowledge this and provide what information you can. ")
	sb.WriteString("Be conversational and engaging while staying faithful to the source material.\n\n")
	sb.WriteString("RESPONSE:")
	return sb.String()
}

func buildSummaryPrompt(bookTitle string, results []vector.SearchResult) string {
	excerpts := make([]string, 0, len(results))
	for _, r := range results {
		excerpts = append(excerpts, r.Content)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Please provide a comprehensive summary of %q based on the following excerpts:\n\n", bookTitle)
	sb.WriteString(strings.Join(excerpts, "\n\n"))
	sb.WriteString("\n\nCreate a well-structured summary that includes:\n")
	sb.WriteString("1. Main themes and key ideas\n")
	sb.WriteString("2. Important concepts or arguments\n")
	sb.WriteString("3. Overall structure or narrative\n")
	sb.WriteString("4. Key takeaways\n\n")
	sb.WriteString("SUMMARY:")
	return sb.String()
}

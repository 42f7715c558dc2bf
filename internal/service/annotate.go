package service

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/askbase-io/askbase/internal/domain"
)

// CompletionClient defines the interface for chat completion providers
type CompletionClient interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

const annotateSystemPrompt = `You situate document excerpts. Given a document and one excerpt from it, ` +
	`reply with 1-2 short sentences that let the excerpt be understood on its own: name the subject, ` +
	`resolve pronouns, and state where in the document it sits. Reply with the sentences only.`

// neighborWindow bounds how many segments on each side of the target are
// included in the annotation prompt, to cap prompt size on large documents.
const neighborWindow = 3

// DocumentMeta describes the document a chunk belongs to
type DocumentMeta struct {
	Name   string
	Origin domain.SourceOrigin
}

// ContextAnnotator produces short situating-context strings for chunks
// so that short, ambiguous segments embed meaningfully out of context.
type ContextAnnotator struct {
	client CompletionClient
}

// NewContextAnnotator creates a new ContextAnnotator instance
func NewContextAnnotator(client CompletionClient) *ContextAnnotator {
	return &ContextAnnotator{client: client}
}

// Annotate returns a 1-2 sentence situating context for segments[index].
// A provider failure degrades to an empty context for that segment only;
// it never fails the caller.
func (a *ContextAnnotator) Annotate(ctx context.Context, meta DocumentMeta, segments []string, index int) string {
	if a.client == nil || index < 0 || index >= len(segments) {
		return ""
	}

	prompt := buildAnnotatePrompt(meta, segments, index)
	out, err := a.client.Complete(ctx, annotateSystemPrompt, prompt)
	if err != nil {
		log.Printf("annotate: segment %d of %q failed, using empty context: %v", index, meta.Name, err)
		return ""
	}

	return strings.TrimSpace(out)
}

func buildAnnotatePrompt(meta DocumentMeta, segments []string, index int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Document: %s (%s)\n", meta.Name, meta.Origin)
	fmt.Fprintf(&b, "Excerpt %d of %d.\n\n", index+1, len(segments))

	lo := index - neighborWindow
	if lo < 0 {
		lo = 0
	}
	hi := index + neighborWindow
	if hi >= len(segments) {
		hi = len(segments) - 1
	}

	b.WriteString("Surrounding document text:\n")
	for i := lo; i <= hi; i++ {
		if i == index {
			continue
		}
		b.WriteString(segments[i])
		b.WriteString("\n")
	}

	b.WriteString("\nExcerpt to situate:\n")
	b.WriteString(segments[index])

	return b.String()
}

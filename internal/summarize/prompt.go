package summarize

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/provenanced/internal/chunkstore"
)

// PromptOptions shape the grounding prompt.
type PromptOptions struct {
	// MaxLength caps the summary length in words. Default: 500.
	MaxLength int

	// Style is an optional instruction, e.g. "executive" or "technical".
	Style string

	// PreserveClinicalTerms instructs the model to keep clinical and
	// regulatory terminology verbatim instead of paraphrasing it.
	PreserveClinicalTerms bool
}

// defaultMaxLength is the summary word cap when the caller sets none.
const defaultMaxLength = 500

// BuildPrompt renders the grounding prompt: every chunk in its numbered
// source block, then the task instruction. The model is told to use only
// the provided sources so citation validation has a fair target.
func BuildPrompt(chunks []chunkstore.Chunk, opts PromptOptions) string {
	maxLength := opts.MaxLength
	if maxLength <= 0 {
		maxLength = defaultMaxLength
	}

	var b strings.Builder
	b.WriteString("You are summarizing excerpts from regulated clinical and technical documents.\n")
	b.WriteString("Use ONLY the numbered sources below. Do not add facts that are not in the sources.\n\n")

	for i, c := range chunks {
		fmt.Fprintf(&b, "[Source %d | chunk %s | document %s", i+1, c.ID, c.DocumentID)
		if c.Section != "" {
			fmt.Fprintf(&b, " | section %s", c.Section)
		}
		b.WriteString("]\n")
		b.WriteString(strings.TrimSpace(c.Text))
		b.WriteString("\n\n")
	}

	fmt.Fprintf(&b, "Write a summary of the sources above in at most %d words.\n", maxLength)
	if opts.Style != "" {
		fmt.Fprintf(&b, "Style: %s.\n", opts.Style)
	}
	if opts.PreserveClinicalTerms {
		b.WriteString("Preserve clinical, statistical, and regulatory terminology exactly as written; do not paraphrase terms of art.\n")
	}
	b.WriteString("Every sentence must be supported by at least one source.")

	return b.String()
}

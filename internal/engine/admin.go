package engine

import (
	"context"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lazypower/keepsake/internal/memory"
	"github.com/lazypower/keepsake/internal/store"
)

// Management operations behind the facts API and CLI. Each targets one
// owned fact by id and fails with memory.ErrNotFound otherwise.

// Pin sets or clears a fact's pinned flag.
func (e *Engine) Pin(ctx context.Context, owner memory.Owner, id string, pinned bool) (*memory.Fact, error) {
	if err := requireOwner(owner); err != nil {
		return nil, err
	}
	return e.Facts.Pin(ctx, owner, id, pinned)
}

// Discard soft-deletes a fact and drops it from the similarity index.
func (e *Engine) Discard(ctx context.Context, owner memory.Owner, id string) (*memory.Fact, error) {
	if err := requireOwner(owner); err != nil {
		return nil, err
	}
	f, err := e.Facts.Discard(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	e.syncVector(ctx, f)
	return f, nil
}

// Confirm records that the user affirmed a fact.
func (e *Engine) Confirm(ctx context.Context, owner memory.Owner, id string) (*memory.Fact, error) {
	if err := requireOwner(owner); err != nil {
		return nil, err
	}
	return e.Facts.Confirm(ctx, owner, id)
}

// Correct applies an explicit user correction to key.
func (e *Engine) Correct(ctx context.Context, owner memory.Owner, key string, value any, displayText string) (Result, error) {
	return e.Protocol.Correct(ctx, owner, key, value, displayText)
}

// List returns an owner's facts for management views.
func (e *Engine) List(ctx context.Context, owner memory.Owner, includeDiscarded bool) ([]*memory.Fact, error) {
	if err := requireOwner(owner); err != nil {
		return nil, err
	}
	return e.Facts.ListItems(ctx, owner, includeDiscarded)
}

// Events returns the audit history of one owned fact, oldest first.
func (e *Engine) Events(ctx context.Context, owner memory.Owner, id string, limit int) ([]store.Event, error) {
	if err := requireOwner(owner); err != nil {
		return nil, err
	}
	f, err := e.Facts.Get(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, memory.ErrNotFound
	}
	if limit <= 0 {
		limit = 100
	}
	return e.Facts.DB().ListEvents(ctx, id, limit)
}

// History returns the owner's most recent audit events across all facts,
// newest first.
func (e *Engine) History(ctx context.Context, owner memory.Owner, limit int) ([]store.Event, error) {
	if err := requireOwner(owner); err != nil {
		return nil, err
	}
	return e.Facts.DB().ListOwnerEvents(ctx, owner, limit)
}

// Export formats.
const (
	FormatYAML     = "yaml"
	FormatMarkdown = "markdown"
)

type exportDoc struct {
	User    string         `yaml:"user"`
	Project string         `yaml:"project,omitempty"`
	Facts   []*memory.Fact `yaml:"facts"`
}

// Export writes every live fact of owner to w as YAML or Markdown.
func (e *Engine) Export(ctx context.Context, owner memory.Owner, format string, w io.Writer) error {
	facts, err := e.List(ctx, owner, false)
	if err != nil {
		return err
	}
	switch format {
	case "", FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(exportDoc{User: owner.UserID, Project: owner.ProjectID, Facts: facts}); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	case FormatMarkdown, "md":
		_, err := io.WriteString(w, renderMarkdown(owner, facts))
		return err
	}
	return &memory.ValidationError{Field: "format", Reason: "unknown export format " + format}
}

var exportSections = []struct{ category, title string }{
	{memory.CategoryPeople, "People"},
	{memory.CategoryIssues, "Issues"},
	{memory.CategoryConstraints, "Constraints"},
	{memory.CategoryHypotheses, "Hypotheses"},
	{memory.CategoryNotes, "Notes"},
}

func renderMarkdown(owner memory.Owner, facts []*memory.Fact) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Memory for %s\n", owner)

	byCat := make(map[string][]*memory.Fact)
	for _, f := range facts {
		byCat[f.Category] = append(byCat[f.Category], f)
	}
	for _, sec := range exportSections {
		items := byCat[sec.category]
		if len(items) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n## %s\n\n", sec.title)
		for _, f := range items {
			var flags []string
			if f.Pinned {
				flags = append(flags, "pinned")
			}
			if f.IsLocked {
				flags = append(flags, "locked")
			}
			if f.RevealPolicy != memory.RevealNormal {
				flags = append(flags, string(f.RevealPolicy))
			}
			line := fmt.Sprintf("- **%s**: %s (strength %.2f)", f.Key, f.Text(), f.Strength)
			if len(flags) > 0 {
				line += " [" + strings.Join(flags, ", ") + "]"
			}
			b.WriteString(line + "\n")
		}
	}
	if len(facts) == 0 {
		b.WriteString("\nNothing remembered yet.\n")
	}
	return b.String()
}

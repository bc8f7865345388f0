package engine

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lazypower/keepsake/internal/llm"
	"github.com/lazypower/keepsake/internal/memory"
)

// maxPendingForConfirmation caps how many held operations are shown to the model.
const maxPendingForConfirmation = 5

// Confirmation is the collaborator's verdict on held-back operations.
type Confirmation struct {
	ShouldAsk bool   `json:"shouldAsk"`
	Question  string `json:"question"`
	Key       string `json:"key"`
}

// ProposeConfirmation asks the collaborator for one short question about the
// most important pending operation. It returns "" when nothing is pending,
// the collaborator is unavailable, or its answer is unusable.
func ProposeConfirmation(ctx context.Context, client llm.Client, userText string, pending []memory.Operation) string {
	if client == nil || len(pending) == 0 {
		return ""
	}

	ranked := append([]memory.Operation(nil), pending...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return importance(ranked[i]) > importance(ranked[j])
	})
	if len(ranked) > maxPendingForConfirmation {
		ranked = ranked[:maxPendingForConfirmation]
	}
	keys := make(map[string]bool, len(ranked))
	for _, op := range ranked {
		keys[op.Key] = true
	}

	pendingJSON, err := json.Marshal(ranked)
	if err != nil {
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	resp, err := client.Complete(ctx, llm.ConfirmationPrompt(userText, string(pendingJSON)))
	if err != nil {
		log.Warn().Err(err).Msg("confirm: collaborator unavailable")
		return ""
	}

	c, ok := parseConfirmation(resp.Content)
	if !ok || !c.ShouldAsk || (c.Key != "" && !keys[c.Key]) {
		return ""
	}
	return c.Question
}

func importance(op memory.Operation) int {
	if op.Importance == nil {
		return memory.DefaultImportance
	}
	return *op.Importance
}

func parseConfirmation(content string) (Confirmation, bool) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return Confirmation{}, false
	}
	var c Confirmation
	if err := json.Unmarshal([]byte(content[start:end+1]), &c); err != nil {
		return Confirmation{}, false
	}
	c.Question = strings.TrimSpace(c.Question)
	if c.ShouldAsk && c.Question == "" {
		return Confirmation{}, false
	}
	return c, true
}

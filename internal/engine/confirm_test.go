package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lazypower/keepsake/internal/llm"
	"github.com/lazypower/keepsake/internal/memory"
)

var pendingOps = []memory.Operation{
	{Op: memory.OpUpsert, Key: "preferences.color", Value: "green", Importance: intp(3), Confidence: f64p(0.3)},
	{Op: memory.OpUpsert, Key: "people.Jo", Value: "coworker", Importance: intp(8), Confidence: f64p(0.4)},
}

func TestProposeConfirmation(t *testing.T) {
	mock := &llm.MockClient{Response: &llm.Response{
		Content: `Sure: {"shouldAsk": true, "question": "Is Jo a coworker of yours?", "key": "people.Jo"}`,
	}}
	q := ProposeConfirmation(context.Background(), mock, "Jo said hi", pendingOps)
	assert.Equal(t, "Is Jo a coworker of yours?", q)

	// Most important first.
	prompt := mock.Calls[0]
	assert.Less(t, strings.Index(prompt, "people.Jo"), strings.Index(prompt, "preferences.color"))
}

func TestProposeConfirmationEmpty(t *testing.T) {
	tests := map[string]struct {
		client  llm.Client
		pending []memory.Operation
	}{
		"no client":   {nil, pendingOps},
		"no pending":  {&llm.MockClient{Response: &llm.Response{Content: `{"shouldAsk": true, "question": "q?"}`}}, nil},
		"llm error":   {&llm.MockClient{Err: errors.New("down")}, pendingOps},
		"not json":    {&llm.MockClient{Response: &llm.Response{Content: "no question"}}, pendingOps},
		"declined":    {&llm.MockClient{Response: &llm.Response{Content: `{"shouldAsk": false, "question": "q?"}`}}, pendingOps},
		"blank":       {&llm.MockClient{Response: &llm.Response{Content: `{"shouldAsk": true, "question": "  "}`}}, pendingOps},
		"foreign key": {&llm.MockClient{Response: &llm.Response{Content: `{"shouldAsk": true, "question": "q?", "key": "pet.Rex"}`}}, pendingOps},
	}
	for name, tt := range tests {
		assert.Empty(t, ProposeConfirmation(context.Background(), tt.client, "text", tt.pending), name)
	}
}

package llm

import (
	"fmt"
	"strings"
)

// maxPromptSection caps each user-supplied section of a prompt.
const maxPromptSection = 8000

func clipSection(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxPromptSection {
		s = s[:maxPromptSection]
	}
	return s
}

// ExtractionPrompt asks for memory operations from one conversation turn.
// known lists keys already stored for the user so the model can correct or
// discard them instead of inventing near-duplicates.
func ExtractionPrompt(userText, assistantText string, known []string) string {
	if strings.TrimSpace(assistantText) == "" {
		assistantText = "(none)"
	}
	knownKeys := "(none)"
	if len(known) > 0 {
		knownKeys = strings.Join(known, "\n")
	}

	return fmt.Sprintf(`You extract stable, user-affirmed memory for a friend-like companion.

Return STRICT JSON only, in this shape:
{
  "ops": [
    {
      "op": "UPSERT",
      "key": "preferences.color",
      "value": "green",
      "displayText": "Favourite colour is green",
      "category": "constraints",
      "triggerTerms": ["color", "colour"],
      "emotionalWeight": "light",
      "relationalContext": ["self"],
      "revealPolicy": "normal",
      "confidence": 0.9,
      "importance": 6
    }
  ]
}

Operations:
- UPSERT: remember a new or updated fact.
- CORRECT: the user explicitly corrected something previously believed.
- DISCARD: the user asked to forget a fact; give its key.
- NO_STORE: nothing worth remembering; return {"ops": [{"op": "NO_STORE"}]}.

Rules:
- Do not invent. Only store what the user explicitly stated or confirmed.
- Prefer friend basics: important people, pets, preferences, boundaries, ongoing projects, life anchors.
- Sensitive topics (diagnoses, trauma, self-harm, medical, substance use, sex): revealPolicy "user_trigger_only".
- If uncertain, set confidence below 0.5 or omit.
- category is one of people, issues, constraints, hypotheses, notes. A hypothesis needs a status such as "open".
- emotionalWeight is one of light, neutral, heavy.
- relationalContext uses only: self, child, partner, parent, work, health, legal, home, identity, pet.
- importance is 1-10; confidence is 0-1.

Key naming:
- people.<Name>
- pet.<Name>
- preferences.<topic>
- boundaries.<topic>
- projects.<name>
- issues.<topic>
- hypotheses.<topic>
- user.<field>

KNOWN KEYS:
%s

USER:
%s

ASSISTANT:
%s

Return JSON only.`, clipSection(knownKeys), clipSection(userText), clipSection(assistantText))
}

// ConfirmationPrompt asks whether one held-back memory deserves a single
// clarifying question. pendingJSON is the JSON encoding of the held ops.
func ConfirmationPrompt(userText, pendingJSON string) string {
	return fmt.Sprintf(`Decide whether to ask ONE confirmation question about a memory you are unsure of.
Ask only if it concerns people, pets, a core preference, or a life anchor.
Choose the single most important item. Keep the question short and warm.

Return JSON only: {"shouldAsk": boolean, "question": string, "key": string}

USER TEXT:
%s

UNCONFIRMED MEMORY OPERATIONS:
%s

Return JSON only.`, clipSection(userText), clipSection(pendingJSON))
}

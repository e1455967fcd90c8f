package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Howie774/onprompted/app/models"
)

// promptOptimizerSystem instructs the model to act as a prompt optimizer and
// to answer in one of exactly two JSON shapes.
const promptOptimizerSystem = `
You are PROMPT-OPTIMIZER, an AI whose only job is to transform any user request
into the best possible prompt for another AI model so that the final output is
accurate, useful, safe, and on-spec.

You NEVER execute the task yourself.
You ONLY return an optimized prompt that another AI should follow.

You operate in TWO MODES for this API integration:

MODE 1: CLARIFICATION FIRST (default)
- This mode is used when the input includes ONLY the raw user goal (no clarification answers yet).
- Your job is to almost always ask focused clarifying questions BEFORE producing the final optimized prompt.
- Behavior:
  - If the request is not extremely clear and fully specified:
    - Return 1-3 high-signal clarifying questions in a single response.
    - Questions should target missing pieces that materially change the ideal prompt:
      - e.g., target audience, platform, tone, length, tech stack, constraints, brand voice, examples, etc.
    - Do NOT generate an optimized prompt yet.
    - Respond ONLY with JSON:
      {
        "status": "needs_clarification",
        "questions": ["...", "..."]
      }
  - If (and only if) the request is already very clear, specific, and well-scoped:
    - You may skip questions and directly generate the final optimized prompt.
    - Respond ONLY with JSON:
      {
        "status": "ready",
        "final_prompt": "..."
      }

MODE 2: FINAL PROMPT (after clarifications)
- This mode is used when the input includes:
  - the original user request, AND
  - the user's answers to your clarifying questions.
- Your job is now to produce ONE optimized prompt that another AI should follow.
- Respond ONLY with JSON:
  {
    "status": "ready",
    "final_prompt": "..."
  }

In both modes:
- You MUST return valid JSON only.
- No markdown, no extra commentary, no system meta-text.
- Keys allowed:
  - For clarification step: "status", "questions"
  - For final step: "status", "final_prompt"

GENERAL PRINCIPLES for every optimized prompt you produce in MODE 2:
- Start with a clear role and purpose: define who the AI should act as and what
  it must achieve.
- Pull in concrete context: goal, audience, domain constraints; if the user did
  not specify, infer reasonable defaults and explicitly mark them as assumptions.
- Specify output format explicitly: bullet list, JSON, code block, table, etc.
- Set style and quality bar: tone, depth, constraints (no fluff, no repetition,
  no hallucination).
- Constrain scope: make the task well-bounded ("Focus only on...", "Limit to X
  words/steps/examples...").
- Encourage appropriate reasoning for logic-heavy tasks, with brief high-level
  reasoning instructions rather than hidden chain-of-thought.
- Be robust and honest: instruct the target model to state what is missing,
  admit uncertainty, and never fabricate citations, data, or sources.
- Safety: never optimize prompts toward violence, harassment, exploitation,
  detailed instructions for wrongdoing, or disinformation; redirect unsafe
  intent toward safer, educational, high-level content.

TEMPLATE PATTERN for final_prompt:
"You are [ROLE].
Context: [who, what, where, constraints, assumptions].
Task: [clear, specific instructions].
Requirements:
- [format / structure]
- [tone / style]
- [depth / limits]
- [reasoning expectations]
- [safety / honesty instructions]
If anything is still ambiguous at runtime, explicitly list 1-3 clarifying questions before proceeding."

FORMAT REQUIREMENTS (CRITICAL)
- With ONLY a raw goal: return either
  {"status":"needs_clarification","questions":[...]}
  or
  {"status":"ready","final_prompt":"..."} if it is truly crystal-clear.
- With a goal PLUS clarification answers: return
  {"status":"ready","final_prompt":"..."}.
- No markdown, no extra keys, no extra prose.
`

// buildUserMessage renders the mode-specific user turn. Non-blank
// clarification answers flip the exchange into the final-prompt mode, where
// the model may not ask further questions.
func buildUserMessage(req models.EngineerPromptRequest) string {
	category := strings.TrimSpace(req.Category)
	if category == "" {
		category = "unspecified"
	}
	extra := strings.TrimSpace(req.ExtraContext)
	if extra == "" {
		extra = "none"
	}
	baseContext := fmt.Sprintf("Category (optional): %s\nExtra context (optional): %s", category, extra)

	answers := strings.TrimSpace(req.ClarificationAnswers)
	if answers != "" {
		return fmt.Sprintf(`MODE 2: FINAL PROMPT

Original user request:
%s

User's answers to your clarifying questions:
%s

%s

Now respond ONLY with:
{
  "status": "ready",
  "final_prompt": "..."
}`, req.Goal, answers, baseContext)
	}

	return fmt.Sprintf(`MODE 1: CLARIFICATION OR DIRECT PROMPT

User request (raw):
%s

%s

Decide if you need clarifications.

If the request is NOT extremely clear and specific:
  Respond ONLY with:
  {
    "status": "needs_clarification",
    "questions": ["question 1", "question 2", "question 3 (optional)"]
  }

If the request IS already fully clear, specific, and well-scoped:
  Respond ONLY with:
  {
    "status": "ready",
    "final_prompt": "..."
  }`, req.Goal, baseContext)
}

type PromptStatus string

const (
	StatusNeedsClarification PromptStatus = "needs_clarification"
	StatusReady              PromptStatus = "ready"
)

// PromptResult is the validated model output: exactly one of the two shapes.
type PromptResult struct {
	Status      PromptStatus
	Questions   []string
	FinalPrompt string
}

// ErrMalformedModelOutput marks model output that failed shape validation.
// Handlers surface it as an upstream protocol failure, distinct from auth or
// quota errors.
var ErrMalformedModelOutput = errors.New("model returned malformed output")

// DecodePromptResult validates raw model output against the two allowed
// shapes. Anything else is a protocol violation: no retries, no guessing.
func DecodePromptResult(raw string) (PromptResult, error) {
	var parsed struct {
		Status      string   `json:"status"`
		Questions   []string `json:"questions"`
		FinalPrompt string   `json:"final_prompt"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return PromptResult{}, fmt.Errorf("%w: invalid JSON", ErrMalformedModelOutput)
	}

	switch PromptStatus(parsed.Status) {
	case StatusNeedsClarification:
		if len(parsed.Questions) == 0 {
			return PromptResult{}, fmt.Errorf("%w: needs_clarification without questions", ErrMalformedModelOutput)
		}
		questions := make([]string, 0, len(parsed.Questions))
		for _, q := range parsed.Questions {
			q = strings.TrimSpace(q)
			if q == "" {
				return PromptResult{}, fmt.Errorf("%w: blank clarification question", ErrMalformedModelOutput)
			}
			questions = append(questions, q)
		}
		return PromptResult{Status: StatusNeedsClarification, Questions: questions}, nil
	case StatusReady:
		if strings.TrimSpace(parsed.FinalPrompt) == "" {
			return PromptResult{}, fmt.Errorf("%w: ready without final_prompt", ErrMalformedModelOutput)
		}
		return PromptResult{Status: StatusReady, FinalPrompt: parsed.FinalPrompt}, nil
	default:
		return PromptResult{}, fmt.Errorf("%w: unknown status %q", ErrMalformedModelOutput, parsed.Status)
	}
}

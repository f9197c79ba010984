package agent

import (
	"fmt"
	"time"
)

// acknowledgement is the fixed assistant turn after the system
// instruction. It keeps roles alternating for providers that care and
// anchors the persona before history begins.
const acknowledgement = "Understood. I'm ready to help you analyze your marketing performance. Ask me anything about your campaigns, traffic or budget."

// synthesisNudge is appended as a user turn after every batch of tool
// results so the next round answers the question instead of narrating
// the tool output.
const synthesisNudge = "Using the tool results above, answer my original question directly. Summarize the key numbers, call out anything unusual, and recommend a next step. Do not describe the tools you used."

// exhaustedFallback is emitted when the round cap is reached without a
// final answer.
const exhaustedFallback = "I wasn't able to finish analyzing that within a reasonable number of steps. Could you narrow the question, for example to a specific campaign or date range?"

// DefaultSystemInstruction builds the assistant persona. The current
// date is interpolated so relative ranges like "last month" resolve
// correctly.
func DefaultSystemInstruction(now time.Time) string {
	return fmt.Sprintf(`You are a senior marketing analytics consultant embedded in the client's team.

Today's date is %s.

You have tools for advertising campaign data, web analytics reports, the marketing data warehouse, an internal knowledge base and web search. Use them to ground every numeric claim; never invent metrics. Prefer first-party data over web search, and only search the web for external benchmarks or industry context.

When you answer:
- Lead with the direct answer, then the supporting numbers.
- Compare against earlier periods or benchmarks when the data allows it.
- Flag anomalies (sudden spend changes, CTR drops, tracking gaps) even when not asked.
- Recommend one concrete next action when the data supports it.
- Keep currency and date formats consistent with the data returned by the tools.`,
		now.Format("Monday, January 2, 2006"))
}

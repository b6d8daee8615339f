package extractor

// decisionExtractionPrompt is the default few-shot, chain-of-thought prompt
// for pulling decision traces out of an episode's structured text. %s is the
// episode text produced by model.Episode.StructuredText().
const decisionExtractionPrompt = `Analyze this conversation and extract any technical decisions made.

## What constitutes a decision?
A decision is a choice that affects the project direction, architecture, or implementation:
- Explicit decisions: "Should we use X or Y? Let's use X because..."
- Implicit decisions: "Let's use X for this" (even without stated alternatives)
- Technical choices: framework selections, architecture patterns, tool adoptions
- Implementation strategies: how to solve a problem, approach to take

Each decision should have a trigger, context, options considered, the decision itself, and a rationale.

## Examples

Conversation:
"We need to pick a database. I looked at PostgreSQL and MongoDB. PostgreSQL seems better for our relational data needs and the team already knows SQL. Let's go with PostgreSQL."

Output:
[
  {
    "trigger": "Need to select a database for the project",
    "context": "Team has SQL experience, data is relational in nature",
    "options": ["PostgreSQL", "MongoDB"],
    "decision": "Use PostgreSQL as the primary database",
    "rationale": "Better fit for relational data and team already has SQL expertise",
    "confidence": 0.95,
    "scope": "architectural",
    "assumptions": ["team has existing SQL expertise", "data model is relational"],
    "verbatim_trigger": "We need to pick a database",
    "verbatim_decision": "let's go with PostgreSQL",
    "verbatim_rationale": "PostgreSQL seems better for our relational data needs and the team already knows SQL",
    "turn_index": 0
  }
]

Conversation:
"What do you think about microservices? I've heard they can be complex but offer good scalability. We should probably discuss this more with the team before deciding anything."

Output:
[]

## Instructions
For each decision found, provide:
- trigger: what prompted the decision (be specific)
- context: relevant background (constraints, requirements, team situation)
- options: alternatives considered (can be just [chosen_option] if none stated)
- decision: what was decided (clear statement)
- rationale: why this choice, or "Not explicitly stated" if unclear
- confidence: 0.0-1.0 (how clear/complete the decision is)
- verbatim_trigger, verbatim_decision, verbatim_rationale: EXACT verbatim quotes from the conversation
- turn_index: which conversation turn (0-indexed) this decision came from
- scope: one of "strategic", "architectural", "library", "config", "operational"
- assumptions: list of explicit assumptions this decision relies on

If no clear decisions are found, return an empty array [].
Always include exact quotes for the verbatim_* fields — preserve qualifiers like "everywhere"/"always"/"never" exactly as written.

## Conversation to analyze:
%s

Return ONLY valid JSON, no markdown code blocks or explanation.`

const architectureDecisionPrompt = `Analyze this conversation for ARCHITECTURE DECISIONS.
Focus on: system structure, scalability, communication patterns, tradeoffs.
Follow the same output schema as a general decision extraction (trigger, context, options, decision,
rationale, confidence, verbatim_trigger, verbatim_decision, verbatim_rationale, turn_index, scope, assumptions).

## Conversation to analyze:
%s

Return ONLY valid JSON, no markdown code blocks or explanation.`

const technologyDecisionPrompt = `Analyze this conversation for TECHNOLOGY CHOICE DECISIONS.
Focus on: tools, frameworks, alternatives considered, compatibility, team skills.
Follow the same output schema as a general decision extraction (trigger, context, options, decision,
rationale, confidence, verbatim_trigger, verbatim_decision, verbatim_rationale, turn_index, scope, assumptions).

## Conversation to analyze:
%s

Return ONLY valid JSON, no markdown code blocks or explanation.`

const processDecisionPrompt = `Analyze this conversation for PROCESS and WORKFLOW DECISIONS.
Focus on: team workflows, deployment practices, quality assurance, collaboration.
Follow the same output schema as a general decision extraction (trigger, context, options, decision,
rationale, confidence, verbatim_trigger, verbatim_decision, verbatim_rationale, turn_index, scope, assumptions).

## Conversation to analyze:
%s

Return ONLY valid JSON, no markdown code blocks or explanation.`

// promptForType returns the specialized prompt template for dtype, falling
// back to the general prompt for DecisionTypeGeneral.
func promptForType(dtype DecisionType) string {
	switch dtype {
	case DecisionTypeArchitecture:
		return architectureDecisionPrompt
	case DecisionTypeTechnology:
		return technologyDecisionPrompt
	case DecisionTypeProcess:
		return processDecisionPrompt
	default:
		return decisionExtractionPrompt
	}
}

// gleaningPromptTemplate drives the LightRAG-style gleaning pass: a focused
// re-extraction of only the fields an incomplete decision is missing. %s
// args: episode excerpt, partial-decision JSON.
const gleaningPromptTemplate = `Below is a partial decision extraction from a conversation. Several fields are
missing or too short. Re-extract ONLY the missing fields for this decision.

ORIGINAL CONVERSATION (excerpt):
%s

PARTIAL EXTRACTION:
%s

Fill in any missing: context, options, rationale, scope, assumptions. Return a JSON object
containing ONLY the filled-in fields (do not repeat already-complete fields).`

// retryPromptTemplate drives the single targeted re-extraction attempt for a
// decision that failed the validation gate. %s args: rejection reason,
// partial decision JSON, episode excerpt.
const retryPromptTemplate = `The following decision extraction failed validation: %s

Partial extraction:
%s

Source conversation (excerpt):
%s

Re-extract this single decision with all required fields (trigger min 10 chars, decision min
10 chars, confidence 0.3-1.0). Return a single JSON object, not a list.`

// verifyPromptTemplate asks the model to check a low-confidence decision
// against its source text before it is persisted. %s args: source excerpt,
// decision JSON.
const verifyPromptTemplate = `You are verifying a decision extracted from a conversation.

Source conversation (excerpt):
%s

Extracted decision:
%s

Verify:
1. Does the decision text actually appear or is it clearly inferable from the source?
2. Is this from the path that was actually implemented (not an abandoned/rejected alternative)?
3. Are the options actual alternatives considered, not just passing mentions?
4. What is the appropriate confidence (0.0-1.0) based on the evidence?
5. Are there any corrections needed for trigger, decision, or rationale?

Respond as JSON:
{"is_valid": true/false, "on_implemented_path": true/false, "issues": ["..."], "corrected_fields": {}, "evidence_confidence": 0.0-1.0}`

// entityExtractionPrompt pulls typed technical entities out of a decision's
// text. %s is the decision text (trigger + context + decision + rationale).
const entityExtractionPrompt = `Extract technical entities from this decision text.

## Entity Types
- technology: Specific tools, languages, frameworks, databases (e.g., PostgreSQL, React, Python)
- concept: Abstract ideas, principles, methodologies (e.g., microservices, REST API, caching)
- pattern: Design and architectural patterns (e.g., singleton, repository pattern, CQRS)
- system: Software systems, services, components (e.g., authentication system, payment gateway)
- person: People mentioned (team members, stakeholders)
- organization: Companies, teams, departments
- file: Specific source file paths mentioned by name

## Examples

Input: "We chose React over Vue for the frontend"
Output:
{
  "entities": [
    {"name": "React", "type": "technology", "confidence": 0.95},
    {"name": "Vue", "type": "technology", "confidence": 0.95},
    {"name": "frontend", "type": "concept", "confidence": 0.85}
  ]
}

Input: "JWT tokens stored in Redis for session management"
Output:
{
  "entities": [
    {"name": "JWT", "type": "technology", "confidence": 0.95},
    {"name": "Redis", "type": "technology", "confidence": 0.95},
    {"name": "session management", "type": "concept", "confidence": 0.85}
  ]
}

## Decision Text
%s

Extract entities. Return ONLY valid JSON:
{"entities": [{"name": "string", "type": "entity_type", "confidence": 0.0-1.0}, ...]}`

// entityRelationshipPrompt identifies typed relationships between an
// already-resolved entity list. %s args: JSON array of entity names, decision
// context text.
const entityRelationshipPrompt = `Identify relationships between these entities.

## Relationship Types
- IS_A: X is a type/category of Y (e.g., "PostgreSQL IS_A Database")
- PART_OF: X is a component of Y (e.g., "React Flow PART_OF React ecosystem")
- DEPENDS_ON: X requires/depends on Y (e.g., "Next.js DEPENDS_ON React")
- REQUIRES: X cannot function without Y
- ENABLES: X makes Y possible
- REFINES: X is a more specific or improved version of Y
- RELATED_TO: X is generally related to Y but no stronger type applies

## Example

Entities: ["React", "Vue", "frontend"]
Context: "We chose React over Vue for the frontend"
Output:
{"relationships": [
  {"from": "React", "to": "frontend", "type": "PART_OF", "confidence": 0.9},
  {"from": "Vue", "to": "frontend", "type": "PART_OF", "confidence": 0.9}
]}

## Entities: %s
## Context: %s

Only include relationships you're confident about (>0.7 confidence). Return ONLY valid JSON:
{"relationships": [{"from": "entity", "to": "entity", "type": "RELATIONSHIP_TYPE", "confidence": 0.0-1.0}, ...]}`

// decisionTypeDetectionPrompt classifies the primary decision type present
// in a conversation. Nothing in the package sends it: DetectDecisionType
// classifies by keyword counts only, with no LLM call.
const decisionTypeDetectionPrompt = `Analyze this conversation and classify the PRIMARY type of decision being made.

Decision types:
- architecture: system structure, scalability, communication patterns, architectural tradeoffs
- technology: tool/framework/library selection, technology choices, compatibility decisions
- process: team workflows, deployment practices, quality assurance, collaboration processes
- general: other types of decisions or unclear/mixed types

## Conversation to analyze:
%s

Return ONLY the decision type (one word: architecture, technology, process, or general), no explanation.`

package extractor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/deciolog/deciolog/internal/llm"
	"github.com/deciolog/deciolog/internal/model"
)

// ExtractEntities pulls typed entity mentions out of decisionText via a
// few-shot LLM pass, consulting the response cache first. Grounded on
// extractor.py's extract_entities.
func (x *Extractor) ExtractEntities(ctx context.Context, decisionText string) ([]model.ExtractedEntity, error) {
	var cached []model.ExtractedEntity
	if x.cache != nil {
		if hit, _ := x.cache.Get(ctx, decisionText, "entities", &cached); hit {
			return cached, nil
		}
	}

	prompt := fmt.Sprintf(entityExtractionPrompt, decisionText)
	response, err := x.llmClient.Generate(ctx, prompt, llm.GenerateOptions{Temperature: 0.2, MaxTokens: 2048})
	if err != nil {
		return nil, fmt.Errorf("extractor: extract entities: %w", err)
	}

	var parsed struct {
		Entities []model.ExtractedEntity `json:"entities"`
	}
	if err := extractJSONObject(response, &parsed); err != nil {
		x.logger.Warn("extractor: failed to parse entity extraction response", "error", err)
		return nil, nil
	}

	if x.cache != nil {
		x.cache.Set(ctx, decisionText, "entities", parsed.Entities)
	}
	return parsed.Entities, nil
}

// ExtractEntityRelationships identifies relationships between an already-
// resolved set of entity names, given decisionContext for disambiguation.
// Fewer than two entities can't form a relationship and short-circuits.
// Grounded on extractor.py's extract_entity_relationships.
func (x *Extractor) ExtractEntityRelationships(ctx context.Context, entityNames []string, decisionContext string) ([]model.ExtractedRelationship, error) {
	if len(entityNames) < 2 {
		return nil, nil
	}

	namesJSON, err := json.Marshal(entityNames)
	if err != nil {
		return nil, fmt.Errorf("extractor: marshal entity names: %w", err)
	}
	cacheKey := string(namesJSON) + "|" + decisionContext

	var cached []model.ExtractedRelationship
	if x.cache != nil {
		if hit, _ := x.cache.Get(ctx, cacheKey, "relationships", &cached); hit {
			return cached, nil
		}
	}

	prompt := fmt.Sprintf(entityRelationshipPrompt, string(namesJSON), decisionContext)
	response, err := x.llmClient.Generate(ctx, prompt, llm.GenerateOptions{Temperature: 0.2, MaxTokens: 2048})
	if err != nil {
		return nil, fmt.Errorf("extractor: extract entity relationships: %w", err)
	}

	var parsed struct {
		Relationships []model.ExtractedRelationship `json:"relationships"`
	}
	if err := extractJSONObject(response, &parsed); err != nil {
		x.logger.Warn("extractor: failed to parse relationship extraction response", "error", err)
		return nil, nil
	}

	if x.cache != nil {
		x.cache.Set(ctx, cacheKey, "relationships", parsed.Relationships)
	}
	return parsed.Relationships, nil
}

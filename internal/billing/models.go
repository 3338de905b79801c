package billing

import "modelpass/internal/types"

var modelCatalog = []types.Model{
	{ID: "gpt35", Name: "GPT-3.5 Turbo", Provider: "OpenAI", MinimumPlan: types.PlanFree},
	{ID: "llama2", Name: "Llama 2", Provider: "Meta", MinimumPlan: types.PlanFree},
	{ID: "claude-instant", Name: "Claude Instant", Provider: "Anthropic", MinimumPlan: types.PlanStarter},
	{ID: "palm2", Name: "PaLM 2", Provider: "Google", MinimumPlan: types.PlanStarter},
	{ID: "gpt4", Name: "GPT-4", Provider: "OpenAI", MinimumPlan: types.PlanPro},
	{ID: "claude2", Name: "Claude 2", Provider: "Anthropic", MinimumPlan: types.PlanPro},
	{ID: "gemini-pro", Name: "Gemini Pro", Provider: "Google", MinimumPlan: types.PlanPro},
	{ID: "mistral-large", Name: "Mistral Large", Provider: "Mistral AI", MinimumPlan: types.PlanEnterprise},
}

var modelMinimumPlan = func() map[string]types.PlanID {
	m := make(map[string]types.PlanID, len(modelCatalog))
	for _, model := range modelCatalog {
		m[model.ID] = model.MinimumPlan
	}
	return m
}()

// Catalog returns the model catalog ordered by minimum plan.
func Catalog() []types.Model {
	out := make([]types.Model, len(modelCatalog))
	copy(out, modelCatalog)
	return out
}

// LookupModel returns the catalog entry for id.
func LookupModel(id string) (types.Model, bool) {
	for _, m := range modelCatalog {
		if m.ID == id {
			return m, true
		}
	}
	return types.Model{}, false
}

// HasModelAccess reports whether plan user unlocks modelID. Models missing
// from the catalog are Free-tier.
func HasModelAccess(user *types.PlanID, modelID string) bool {
	required, ok := modelMinimumPlan[modelID]
	if !ok {
		required = types.PlanFree
	}
	return HasAccess(user, required)
}

package config

// mergeLLMProviders merges built-in and user-defined LLM provider configurations.
// User-defined providers override built-in providers with the same name.
func mergeLLMProviders(builtinProviders map[string]LLMProviderConfig, userProviders map[string]LLMProviderConfig) map[string]*LLMProviderConfig {
	result := make(map[string]*LLMProviderConfig)

	// First, add built-in providers
	for name, provider := range builtinProviders {
		providerCopy := provider
		result[name] = &providerCopy
	}

	// Then, override with user-defined providers (or add new ones)
	for name, userProvider := range userProviders {
		providerCopy := userProvider
		result[name] = &providerCopy
	}

	return result
}

// mergeTierBindings merges built-in and user-defined tier bindings.
// A user binding replaces the built-in one for that tier wholesale; guard
// fields left at zero fall back to binding defaults.
func mergeTierBindings(builtinTiers map[string]TierBinding, userTiers map[string]TierBinding) map[string]*TierBinding {
	result := make(map[string]*TierBinding)

	for tier, binding := range builtinTiers {
		bindingCopy := binding
		result[tier] = &bindingCopy
	}

	for tier, userBinding := range userTiers {
		bindingCopy := userBinding
		result[tier] = &bindingCopy
	}

	// Backfill unset guard fields so partial user bindings stay safe.
	for tier, binding := range result {
		defaults := DefaultTierBinding(binding.Provider)
		if binding.RequestsPerMinute == 0 {
			binding.RequestsPerMinute = defaults.RequestsPerMinute
		}
		if binding.Burst == 0 {
			binding.Burst = defaults.Burst
		}
		if binding.BreakerFailures == 0 {
			binding.BreakerFailures = defaults.BreakerFailures
		}
		if binding.BreakerCooldownSeconds == 0 {
			binding.BreakerCooldownSeconds = defaults.BreakerCooldownSeconds
		}
		result[tier] = binding
	}

	return result
}

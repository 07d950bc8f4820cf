package config

// defaultTree returns the default value tree merged into a decoded document.
// Top-level keys missing from the raw document adopt the value here
// wholesale; for keys present as nested objects in both, missing subkeys
// adopt the default subvalue but the merge does not recurse past one level.
func defaultTree() map[string]interface{} {
	return map[string]interface{}{
		"version":  "1.0",
		"method":   "GET",
		"renderer": "plain",
		"renderer_options": map[string]interface{}{
			"timeout_seconds": 30,
			"on_timeout":      "fail",
		},
		"pagination": map[string]interface{}{
			"type":      "none",
			"start":     1,
			"max_pages": 1,
		},
		"output": map[string]interface{}{
			"mode": "append",
		},
		"rate_limit": map[string]interface{}{
			"delay_seconds":  1.0,
			"max_concurrent": 1,
		},
		"retry": map[string]interface{}{
			"max_retries":    3,
			"backoff_factor": 2.0,
		},
		"priority": 10,
		"gotify": map[string]interface{}{
			"priority": 5,
		},
	}
}

// ApplyDefaults deep-merges the default tree into raw, one level deep for
// nested objects. It is idempotent: applying it twice to its own output
// yields the same result, since an existing subtree always wins over the
// matching default subkey.
func ApplyDefaults(raw map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		result[k] = v
	}

	for key, defVal := range defaultTree() {
		existing, present := result[key]
		if !present {
			result[key] = defVal
			continue
		}

		defMap, isDefMap := defVal.(map[string]interface{})
		existingMap, isExistingMap := existing.(map[string]interface{})
		if !isDefMap || !isExistingMap {
			continue
		}

		merged := make(map[string]interface{}, len(defMap)+len(existingMap))
		for k, v := range defMap {
			merged[k] = v
		}
		for k, v := range existingMap {
			merged[k] = v
		}
		result[key] = merged
	}

	return result
}

// ApplyOverrides applies a flat mapping of top-level keys onto raw. A nil
// override value is ignored rather than overwriting the existing key.
func ApplyOverrides(raw map[string]interface{}, overrides map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		result[k] = v
	}
	for k, v := range overrides {
		if v == nil {
			continue
		}
		result[k] = v
	}
	return result
}

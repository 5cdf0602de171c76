package rvg

import (
	"fmt"
)

// helpers for the loosely typed provider params decoded from yaml

const ParamKeyEndpoint = "endpoint"

func getMapRequired(parent map[string]interface{}, key string) (map[string]interface{}, error) {
	if _, exists := parent[key]; !exists {
		return nil, fmt.Errorf("Missing expected configuration key: %s", key)
	}

	if keyTyped, ok := parent[key].(map[string]interface{}); ok {
		return keyTyped, nil
	}

	typed, ok := parent[key].(map[interface{}]interface{})
	if !ok {
		return nil, fmt.Errorf("Expecting a map value for key %s, got '%T' instead", key, parent[key])
	}

	keyTyped := make(map[string]interface{})
	for k, v := range typed {
		typedKey, ok := k.(string)
		if !ok {
			return nil, fmt.Errorf("Expecting a string value key in map %s, got '%T' instead", key, k)
		}
		keyTyped[typedKey] = v
	}

	return keyTyped, nil
}

func getMapOptional(parent map[string]interface{}, key string) map[string]interface{} {
	if _, exists := parent[key]; exists {
		value, err := getMapRequired(parent, key)
		if err != nil {
			Log.Warnf("%v", err)
			return nil
		}
		return value
	}
	return nil
}

func getIntArrayRequired(parent map[string]interface{}, key string) ([]int, error) {
	if _, exists := parent[key]; !exists {
		return nil, fmt.Errorf("Missing expected configuration key: %s", key)
	}

	untypedArr, ok := parent[key].([]interface{})
	if !ok {
		return nil, fmt.Errorf("Expecting an array value for key %s, got '%T' instead", key, parent[key])
	}

	typedArray := make([]int, len(untypedArr))
	for idx, obj := range untypedArr {
		typedArray[idx], ok = obj.(int)
		if !ok {
			return nil, fmt.Errorf("Expecting int for index %d of array %s, got '%T' instead", idx, key, obj)
		}
	}

	return typedArray, nil
}

func getStringRequired(parent map[string]interface{}, key string) (string, error) {
	if _, exists := parent[key]; !exists {
		return "", fmt.Errorf("Missing expected configuration key: %s", key)
	}

	typed, ok := parent[key].(string)
	if !ok {
		return "", fmt.Errorf("Expecting a string value for key %s, got '%T' instead", key, parent[key])
	}
	return typed, nil
}

func getStringOptional(parent map[string]interface{}, key string) (string, bool) {
	if _, exists := parent[key]; exists {
		value, err := getStringRequired(parent, key)
		if err != nil {
			Log.Warnf("%v", err)
			return "", false
		}
		return value, true
	}
	return "", false
}

func getIntOptionalWithDefault(parent map[string]interface{}, key string, defaultValue int) (int, bool) {
	if _, exists := parent[key]; exists {
		if value, ok := parent[key].(int); ok {
			return value, true
		} else if value, ok := parent[key].(float64); ok {
			return int(value), true
		}
		Log.Warnf("Expecting an int value for key %s, got '%T' instead", key, parent[key])
		return defaultValue, false
	}
	return defaultValue, false
}

// yaml decodes "5" as int and "5.0" as float64, accept both
func getFloatRequired(parent map[string]interface{}, key string) (float64, error) {
	if _, exists := parent[key]; !exists {
		return 0, fmt.Errorf("Missing expected configuration key: %s", key)
	}

	switch value := parent[key].(type) {
	case float64:
		return value, nil
	case int:
		return float64(value), nil
	default:
		return 0, fmt.Errorf("Expecting a float64 value for key %s, got '%T' instead", key, parent[key])
	}
}

func getFloatOptional(parent map[string]interface{}, key string) (float64, bool) {
	if _, exists := parent[key]; exists {
		value, err := getFloatRequired(parent, key)
		if err != nil {
			Log.Warnf("%v", err)
			return 0, false
		}
		return value, true
	}
	return 0, false
}

// present but non-bool counts as true
func getBool(parent map[string]interface{}, key string) bool {
	if _, exists := parent[key]; exists {
		if value, ok := parent[key].(bool); ok {
			return value
		}
		return true
	}
	return false
}

func getEndpointRequired(parent map[string]interface{}, key string) (*Endpoint, error) {
	params, err := getMapRequired(parent, key)
	if err != nil {
		return nil, err
	}
	return NewEndpoint(params)
}

// nil without error when the key is absent
func getEndpointOptional(parent map[string]interface{}, key string) (*Endpoint, error) {
	if _, exists := parent[key]; !exists {
		return nil, nil
	}

	endpoint, err := getEndpointRequired(parent, key)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}

	return endpoint, nil
}

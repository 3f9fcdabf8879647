package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	jsonrepair "github.com/RealAlexandreAI/json-repair"
	hjson "github.com/hjson/hjson-go/v4"
)

var (
	// ErrEmptyResponse matches any *EmptyResponseError.
	ErrEmptyResponse = errors.New("empty response from model")
	// ErrMalformedResponse matches any *MalformedResponseError.
	ErrMalformedResponse = errors.New("malformed JSON returned by model")
)

// EmptyResponseError means the model returned no text at all.
type EmptyResponseError struct{}

func (e *EmptyResponseError) Error() string { return ErrEmptyResponse.Error() }

func (e *EmptyResponseError) Is(target error) bool { return target == ErrEmptyResponse }

// MalformedResponseError means no JSON object could be recovered.
// Raw holds the text that failed to parse; it is meant for logs only and is
// deliberately left out of Error().
type MalformedResponseError struct {
	Raw   string
	Cause error
}

func (e *MalformedResponseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", ErrMalformedResponse.Error(), e.Cause)
	}
	return ErrMalformedResponse.Error()
}

func (e *MalformedResponseError) Is(target error) bool { return target == ErrMalformedResponse }

func (e *MalformedResponseError) Unwrap() error { return e.Cause }

// ExtractJSON recovers the single JSON object a model response is supposed to
// contain. The model is told to answer with pure JSON but routinely wraps it
// in ```json fences or adds prose around it, so:
//  1. every code-fence marker is removed, wherever it appears
//  2. the text is cut from the first '{' to the last '}'
//  3. the result is parsed strictly, then repaired, then read as Hjson
//
// Only a JSON object counts as success. A repaired or Hjson object must also
// carry every key in required; otherwise a truncated answer or prose inside
// braces would pass as a valid but empty payload.
func ExtractJSON(text string, required ...string) (map[string]interface{}, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &EmptyResponseError{}
	}

	cleaned := StripCodeFences(text)
	cleaned = SliceOuterObject(cleaned)

	obj, err := SmartParse(cleaned, required...)
	if err != nil {
		return nil, &MalformedResponseError{Raw: cleaned, Cause: err}
	}
	return obj, nil
}

// StripCodeFences removes ```json and ``` markers anywhere in the text.
func StripCodeFences(text string) string {
	cleaned := strings.ReplaceAll(text, "```json", "")
	return strings.ReplaceAll(cleaned, "```", "")
}

// SliceOuterObject returns text[first '{' : last '}'] inclusive, or text
// unchanged when there is no such span.
func SliceOuterObject(text string) string {
	first := strings.Index(text, "{")
	last := strings.LastIndex(text, "}")
	if first != -1 && last != -1 && last > first {
		return text[first : last+1]
	}
	return text
}

// SmartParse tries multiple parsing strategies to get a JSON object.
// Order of attempts:
// 1. Standard JSON parse
// 2. JSON repair
// 3. Hjson parse (most lenient)
//
// Results of 2 and 3 are only accepted when they contain every required key.
func SmartParse(input string, required ...string) (map[string]interface{}, error) {
	// Try 1: Standard JSON
	obj, strictErr := decodeObject(input)
	if strictErr == nil {
		return obj, nil
	}

	// The lenient parsers happily turn plain prose ("Sorry: no data") into an
	// object, so they only see text that at least opens one.
	start := strings.Index(input, "{")
	if start == -1 {
		return nil, fmt.Errorf("no JSON object found: %w", strictErr)
	}
	input = input[start:]

	// Try 2: JSON Repair
	if repaired, err := RepairJSON(input); err == nil {
		if obj, err := decodeObject(repaired); err == nil && hasKeys(obj, required) {
			return obj, nil
		}
	}

	// Try 3: Hjson
	if converted, err := ParseHJSON(input); err == nil {
		if obj, err := decodeObject(converted); err == nil && hasKeys(obj, required) {
			return obj, nil
		}
	}

	return nil, fmt.Errorf("all parsing strategies failed: %w", strictErr)
}

func hasKeys(obj map[string]interface{}, keys []string) bool {
	for _, k := range keys {
		if _, ok := obj[k]; !ok {
			return false
		}
	}
	return true
}

// decodeObject parses s and insists the top-level value is an object.
func decodeObject(s string) (map[string]interface{}, error) {
	var v interface{}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("top-level JSON value is %T, not an object", v)
	}
	return obj, nil
}

// RepairJSON attempts to fix common JSON errors from LLM outputs:
// unquoted keys, single quotes, unclosed containers, trailing commas, comments.
func RepairJSON(malformedJSON string) (string, error) {
	repaired, err := jsonrepair.RepairJSON(malformedJSON)
	if err != nil {
		return "", fmt.Errorf("JSON_REPAIR_FAILED: %v", err)
	}
	return repaired, nil
}

// ParseHJSON parses Human-friendly JSON (Hjson) and returns standard JSON.
func ParseHJSON(hjsonData string) (string, error) {
	var result interface{}
	if err := hjson.Unmarshal([]byte(hjsonData), &result); err != nil {
		return "", fmt.Errorf("HJSON_PARSE_ERROR: %v", err)
	}

	jsonBytes, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("JSON_MARSHAL_ERROR: %v", err)
	}
	return string(jsonBytes), nil
}

// Package demo provides deterministic, no-external-dependency tool
// implementations for the three family names the Tool Gate already
// recognizes (spec.md §4.7.2: weather, datetime, calendar). No corpus
// example ships a redistributable weather/calendar API client, so these
// exist purely so cmd/cogrouterd can exercise the Tool Gate's fixup and
// default-substitution paths end to end without a live network
// dependency; a production deployment swaps these for real API-backed
// tools.Tool implementations under the same names.
package demo

import (
	"context"
	"encoding/json"
)

type WeatherTool struct{}

func (WeatherTool) Name() string { return "get_weather" }

func (WeatherTool) JSONSchema() map[string]any {
	return map[string]any{
		"name":        "get_weather",
		"description": "Look up the current weather for a city.",
		"parameters": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"city": map[string]any{"type": "string"},
			},
			"required": []string{"city"},
		},
	}
}

func (WeatherTool) Call(_ context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		City string `json:"city"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true, "city": args.City, "summary": "clear skies, 68F"}, nil
}

type DateTimeTool struct{}

func (DateTimeTool) Name() string { return "get_datetime" }

func (DateTimeTool) JSONSchema() map[string]any {
	return map[string]any{
		"name":        "get_datetime",
		"description": "Resolve a relative date expression (today, tomorrow, next week) to a description.",
		"parameters": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"date": map[string]any{"type": "string"},
			},
			"required": []string{"date"},
		},
	}
}

func (DateTimeTool) Call(_ context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Date string `json:"date"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true, "resolved": args.Date}, nil
}

type CalendarTool struct{}

func (CalendarTool) Name() string { return "create_calendar_event" }

func (CalendarTool) JSONSchema() map[string]any {
	return map[string]any{
		"name":        "create_calendar_event",
		"description": "Create a calendar event with a title.",
		"parameters": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title": map[string]any{"type": "string"},
			},
			"required": []string{"title"},
		},
	}
}

func (CalendarTool) Call(_ context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true, "title": args.Title, "created": true}, nil
}

package demo

import (
	"context"
	"encoding/json"
	"testing"
)

func TestWeatherTool_Call(t *testing.T) {
	raw, _ := json.Marshal(map[string]any{"city": "Seattle"})
	res, err := WeatherTool{}.Call(context.Background(), raw)
	if err != nil {
		t.Fatalf("Call returned err: %v", err)
	}
	m := res.(map[string]any)
	if m["city"] != "Seattle" {
		t.Fatalf("expected city echoed back, got %v", m["city"])
	}
	if okv, _ := m["ok"].(bool); !okv {
		t.Fatalf("expected ok true, got %v", m)
	}
}

func TestDateTimeTool_Call(t *testing.T) {
	raw, _ := json.Marshal(map[string]any{"date": "tomorrow"})
	res, err := DateTimeTool{}.Call(context.Background(), raw)
	if err != nil {
		t.Fatalf("Call returned err: %v", err)
	}
	m := res.(map[string]any)
	if m["resolved"] != "tomorrow" {
		t.Fatalf("expected resolved echoed back, got %v", m["resolved"])
	}
}

func TestCalendarTool_Call(t *testing.T) {
	raw, _ := json.Marshal(map[string]any{"title": "Standup"})
	res, err := CalendarTool{}.Call(context.Background(), raw)
	if err != nil {
		t.Fatalf("Call returned err: %v", err)
	}
	m := res.(map[string]any)
	if m["title"] != "Standup" {
		t.Fatalf("expected title echoed back, got %v", m["title"])
	}
	if created, _ := m["created"].(bool); !created {
		t.Fatalf("expected created true, got %v", m)
	}
}

func TestToolNamesMatchToolGateFamilies(t *testing.T) {
	if WeatherTool{}.Name() != "get_weather" {
		t.Fatalf("unexpected weather tool name: %s", WeatherTool{}.Name())
	}
	if DateTimeTool{}.Name() != "get_datetime" {
		t.Fatalf("unexpected datetime tool name: %s", DateTimeTool{}.Name())
	}
	if CalendarTool{}.Name() != "create_calendar_event" {
		t.Fatalf("unexpected calendar tool name: %s", CalendarTool{}.Name())
	}
}

package settings

import (
	"context"
	"errors"
	"testing"
)

// TestSetRejectsInvalidInputBeforeTouchingStorage exercises Set's validation
// paths that return before ever calling into the Warehouse, so a nil wh is
// safe here — the point is confirming bad input never reaches storage.
func TestSetRejectsInvalidInputBeforeTouchingStorage(t *testing.T) {
	s := &Service{wh: nil}

	if err := s.Set(context.Background(), "not_a_real_setting", "1"); !errors.Is(err, ErrUnknownKey) {
		t.Errorf("Set() for unknown key error = %v, want ErrUnknownKey", err)
	}
	if err := s.Set(context.Background(), "retention_months", "0"); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Set(retention_months, \"0\") error = %v, want ErrOutOfRange (min is 1)", err)
	}
	if err := s.Set(context.Background(), "retention_months", "121"); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Set(retention_months, \"121\") error = %v, want ErrOutOfRange (max is 120)", err)
	}
	if err := s.Set(context.Background(), "retention_months", "not-a-number"); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Set(retention_months, \"not-a-number\") error = %v, want ErrOutOfRange", err)
	}
}

func TestParseValueInt(t *testing.T) {
	v, err := parseValue(KindInt, "300")
	if err != nil {
		t.Fatalf("parseValue() error = %v", err)
	}
	if v.Kind != KindInt || v.Int != 300 {
		t.Errorf("parseValue(KindInt, \"300\") = %+v, want Kind=KindInt Int=300", v)
	}
}

func TestParseValueIntInvalid(t *testing.T) {
	if _, err := parseValue(KindInt, "not-a-number"); err == nil {
		t.Error("parseValue(KindInt, \"not-a-number\") error = nil, want error")
	}
}

func TestParseValueBool(t *testing.T) {
	tests := []struct {
		raw  string
		want bool
	}{
		{"true", true},
		{"false", false},
		{"1", true},
		{"0", false},
	}
	for _, tt := range tests {
		v, err := parseValue(KindBool, tt.raw)
		if err != nil {
			t.Fatalf("parseValue(KindBool, %q) error = %v", tt.raw, err)
		}
		if v.Kind != KindBool || v.Bool != tt.want {
			t.Errorf("parseValue(KindBool, %q) = %+v, want Bool=%v", tt.raw, v, tt.want)
		}
	}
}

func TestParseValueString(t *testing.T) {
	v, err := parseValue(KindString, "hello")
	if err != nil {
		t.Fatalf("parseValue() error = %v", err)
	}
	if v.Kind != KindString || v.Str != "hello" {
		t.Errorf("parseValue(KindString, \"hello\") = %+v, want Kind=KindString Str=\"hello\"", v)
	}
}

func TestKindName(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindInt, "int"},
		{KindBool, "bool"},
		{KindDuration, "duration"},
		{KindString, "string"},
	}
	for _, tt := range tests {
		if got := kindName(tt.kind); got != tt.want {
			t.Errorf("kindName(%v) = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

package rules

import (
	"errors"
	"testing"
)

var testSchema = Schema{
	"lifetimecents": KindInt,
	"monthlycents":  KindInt,
	"tiers":         KindStringSet,
	"tier":          KindString,
}

func mustCompile(t *testing.T, expr string) *Predicate {
	t.Helper()

	pred, err := Compile(expr, testSchema)
	if err != nil {
		t.Fatalf("Compile(%q) failed: %v", expr, err)
	}
	return pred
}

func TestCompileAndEvaluate(t *testing.T) {
	facts := map[string]any{
		"lifetimecents": float64(500),
		"monthlycents":  float64(300),
		"tiers":         []any{"supporter", "patron"},
		"tier":          "patron",
	}

	cases := []struct {
		expr string
		want bool
	}{
		{"lifetimeCents >= 500", true},
		{"lifetimeCents > 500", false},
		{"lifetimeCents < 600", true},
		{"lifetimeCents <= 499", false},
		{"lifetimeCents == 500", true},
		{"lifetimeCents != 500", false},
		{"LIFETIMECENTS >= 500", true},
		{"tiers Contains \"patron\"", true},
		{"tiers contains 'patron'", true},
		{"tiers Contains \"vip\"", false},
		{"tier == \"patron\"", true},
		{"tier != 'patron'", false},
		{"!(tiers Contains \"vip\")", true},
		{"lifetimeCents >= 500 && monthlyCents >= 300", true},
		{"lifetimeCents >= 900 || monthlyCents >= 300", true},
		{"lifetimeCents >= 900 || monthlyCents >= 900", false},
		// && binds tighter than ||
		{"lifetimeCents >= 900 || lifetimeCents >= 100 && monthlyCents >= 100", true},
		{"(lifetimeCents >= 900 || lifetimeCents >= 100) && monthlyCents >= 900", false},
		{"500 <= lifetimeCents", true},
	}

	for _, tc := range cases {
		pred := mustCompile(t, tc.expr)

		got, err := pred.Evaluate(facts)
		if err != nil {
			t.Errorf("Evaluate(%q) returned fault: %v", tc.expr, err)
			continue
		}
		if got != tc.want {
			t.Errorf("Evaluate(%q) = %v, want %v", tc.expr, got, tc.want)
		}
	}
}

func TestCompileRejectsMalformedExpressions(t *testing.T) {
	cases := []string{
		"",
		"   ",
		"lifetimeCents >>> 500",
		"lifetimeCents >=",
		"lifetimeCents",
		"lifetimeCents = 500",
		"lifetimeCents & monthlyCents",
		"(lifetimeCents >= 500",
		"lifetimeCents >= 500)",
		"lifetimeCents >= 'abc'",
		"tiers >= 500",
		"tiers == tiers",
		"tiers Contains 500",
		"lifetimeCents Contains 'x'",
		"unknownFact >= 1",
		"lifetimeCents >= 500 500",
		"tier == 'unterminated",
	}

	for _, expr := range cases {
		_, err := Compile(expr, testSchema)
		if err == nil {
			t.Errorf("Compile(%q) succeeded, want InvalidRuleError", expr)
			continue
		}

		var invalid *InvalidRuleError
		if !errors.As(err, &invalid) {
			t.Errorf("Compile(%q) error is %T, want *InvalidRuleError", expr, err)
		}
	}
}

func TestEvaluateFaultIsNotFalse(t *testing.T) {
	pred := mustCompile(t, "lifetimeCents >= 500")

	// missing fact: a fault, distinguishable from an explicit false
	_, err := pred.Evaluate(map[string]any{})
	if err == nil {
		t.Fatal("expected fault for missing fact")
	}

	var fault *EvalFaultError
	if !errors.As(err, &fault) {
		t.Fatalf("error is %T, want *EvalFaultError", err)
	}
	if fault.Fact != "lifetimecents" {
		t.Errorf("fault names fact %q, want lifetimecents", fault.Fact)
	}

	// wrong value shape is a fault too
	_, err = pred.Evaluate(map[string]any{"lifetimecents": "not a number"})
	if !errors.As(err, &fault) {
		t.Fatalf("expected *EvalFaultError for malformed fact, got %v", err)
	}
}

func TestEvaluateShortCircuitSkipsFault(t *testing.T) {
	facts := map[string]any{"lifetimecents": float64(900)}

	// right side would fault on the missing tiers fact, but || short-circuits
	pred := mustCompile(t, "lifetimeCents >= 500 || tiers Contains 'vip'")
	got, err := pred.Evaluate(facts)
	if err != nil {
		t.Fatalf("unexpected fault: %v", err)
	}
	if !got {
		t.Error("expected true")
	}

	// && short-circuits on false left side
	pred = mustCompile(t, "lifetimeCents >= 1000 && tiers Contains 'vip'")
	got, err = pred.Evaluate(facts)
	if err != nil {
		t.Fatalf("unexpected fault: %v", err)
	}
	if got {
		t.Error("expected false")
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	pred := mustCompile(t, "lifetimeCents >= 500 && tiers Contains 'patron'")
	facts := map[string]any{
		"lifetimecents": float64(750),
		"tiers":         []any{"patron"},
	}

	for i := 0; i < 100; i++ {
		got, err := pred.Evaluate(facts)
		if err != nil {
			t.Fatalf("run %d faulted: %v", i, err)
		}
		if !got {
			t.Fatalf("run %d = false, want true", i)
		}
	}
}

func TestEvaluateAcceptsCaseInsensitiveFactKeys(t *testing.T) {
	pred := mustCompile(t, "lifetimeCents >= 500")

	got, err := pred.Evaluate(map[string]any{"LifetimeCents": float64(600)})
	if err != nil {
		t.Fatalf("unexpected fault: %v", err)
	}
	if !got {
		t.Error("expected true for mixed-case fact key")
	}
}

func TestCacheReusesCompiledPredicates(t *testing.T) {
	cache := NewCache()

	first, err := cache.Get("patreon", "lifetimeCents >= 500")
	if err != nil {
		t.Fatalf("first Get failed: %v", err)
	}

	second, err := cache.Get("patreon", "lifetimeCents >= 500")
	if err != nil {
		t.Fatalf("second Get failed: %v", err)
	}

	if first != second {
		t.Error("cache returned a new predicate for the same expression")
	}
}

func TestCacheRejectsUnknownRewardType(t *testing.T) {
	cache := NewCache()

	if _, err := cache.Get("nope", "lifetimeCents >= 500"); err == nil {
		t.Error("expected error for unknown reward type")
	}
}

package detect

import (
	"math"
	"testing"

	"crawlmeter/internal/signature"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestAggregateEmpty(t *testing.T) {
	res := Aggregate(Signal{}, nil, DefaultAggregateOptions())
	if res.IsBot {
		t.Fatal("no verdicts should mean not a bot")
	}
}

func TestAggregateSingleVerdict(t *testing.T) {
	verdicts := []Verdict{
		{Method: MethodSignature, Confidence: 0.95, Signature: signature.Signature{Name: "GPTBot"}},
	}
	res := Aggregate(Signal{}, verdicts, DefaultAggregateOptions())

	if !res.IsBot {
		t.Fatal("expected bot")
	}
	if !almostEqual(res.Confidence, 0.95) {
		t.Fatalf("confidence = %v, want 0.95 with no corroboration boost", res.Confidence)
	}
	if res.Signature.Name != "GPTBot" {
		t.Fatalf("identity = %s", res.Signature.Name)
	}
}

func TestAggregateCorroborationBoost(t *testing.T) {
	verdicts := []Verdict{
		{Method: MethodSignature, Confidence: 0.8, Signature: signature.Signature{Name: "GPTBot"}},
		{Method: MethodIPRange, Confidence: 0.5},
	}
	res := Aggregate(Signal{}, verdicts, DefaultAggregateOptions())

	if !almostEqual(res.Confidence, 0.85) {
		t.Fatalf("confidence = %v, want 0.8 + one 0.05 boost", res.Confidence)
	}
	if res.Signature.Name != "GPTBot" {
		t.Fatalf("strongest verdict should supply the identity, got %s", res.Signature.Name)
	}
}

func TestAggregateBoostCeiling(t *testing.T) {
	// Four corroborating layers would add 0.15 uncapped; the ceiling is 0.1.
	verdicts := []Verdict{
		{Method: MethodSignature, Confidence: 0.6},
		{Method: MethodHeader, Confidence: 0.5},
		{Method: MethodIPRange, Confidence: 0.4},
		{Method: MethodBehavior, Confidence: 0.3},
	}
	res := Aggregate(Signal{}, verdicts, DefaultAggregateOptions())
	if !almostEqual(res.Confidence, 0.7) {
		t.Fatalf("confidence = %v, want 0.6 + capped boost 0.1", res.Confidence)
	}
}

func TestAggregateConfidenceCap(t *testing.T) {
	verdicts := []Verdict{
		{Method: MethodSignature, Confidence: 0.95},
		{Method: MethodIPRange, Confidence: 0.9},
		{Method: MethodEdge, Confidence: 0.9},
	}
	res := Aggregate(Signal{}, verdicts, DefaultAggregateOptions())
	if !almostEqual(res.Confidence, 0.99) {
		t.Fatalf("confidence = %v, want hard cap 0.99", res.Confidence)
	}
}

func TestAggregateOrderIndependent(t *testing.T) {
	a := Verdict{Method: MethodSignature, Confidence: 0.95, Signature: signature.Signature{Name: "GPTBot"}}
	b := Verdict{Method: MethodIPRange, Confidence: 0.9, Signature: signature.Signature{Name: "ip"}}
	c := Verdict{Method: MethodHeader, Confidence: 0.9, Signature: signature.Signature{Name: "hdr"}}

	orders := [][]Verdict{
		{a, b, c},
		{c, b, a},
		{b, a, c},
		{b, c, a},
	}

	first := Aggregate(Signal{}, orders[0], DefaultAggregateOptions())
	for i, verdicts := range orders[1:] {
		got := Aggregate(Signal{}, verdicts, DefaultAggregateOptions())
		if got.Confidence != first.Confidence || got.Signature.Name != first.Signature.Name {
			t.Fatalf("order %d: got (%v, %s), want (%v, %s)",
				i+1, got.Confidence, got.Signature.Name, first.Confidence, first.Signature.Name)
		}
	}
}

func TestAggregateEqualConfidenceTieBreak(t *testing.T) {
	// Two verdicts at the same confidence: the method name decides, so the
	// winner is stable across input orders.
	a := Verdict{Method: MethodHeader, Confidence: 0.7, Signature: signature.Signature{Name: "hdr"}}
	b := Verdict{Method: MethodIPRange, Confidence: 0.7, Signature: signature.Signature{Name: "ip"}}

	forward := Aggregate(Signal{}, []Verdict{a, b}, DefaultAggregateOptions())
	backward := Aggregate(Signal{}, []Verdict{b, a}, DefaultAggregateOptions())

	if forward.Signature.Name != backward.Signature.Name {
		t.Fatalf("tie winner differs by order: %s vs %s", forward.Signature.Name, backward.Signature.Name)
	}
	if forward.Signature.Name != "hdr" {
		t.Fatalf("winner = %s, want header_fingerprint (lexicographically first)", forward.Signature.Name)
	}
}

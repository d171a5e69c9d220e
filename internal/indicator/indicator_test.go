package indicator

import (
	"testing"
	"time"
)

func validIndicator() Indicator {
	return Indicator{
		ID:                        "ind-1",
		Name:                      "orders per hour",
		ConnectionRef:             "conn-1",
		Query:                     "SELECT count(*) FROM orders",
		FrequencyMinutes:          5,
		DeviationThresholdPercent: 10,
		BaselineWindowMinutes:     60,
		CooldownMinutes:           15,
		IsActive:                  true,
	}
}

func TestValidate(t *testing.T) {
	if err := validIndicator().Validate(); err != nil {
		t.Fatalf("valid indicator rejected: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Indicator)
	}{
		{"empty name", func(i *Indicator) { i.Name = "" }},
		{"empty connection", func(i *Indicator) { i.ConnectionRef = "" }},
		{"empty query", func(i *Indicator) { i.Query = "" }},
		{"zero frequency", func(i *Indicator) { i.FrequencyMinutes = 0 }},
		{"negative frequency", func(i *Indicator) { i.FrequencyMinutes = -5 }},
		{"threshold above 100", func(i *Indicator) { i.DeviationThresholdPercent = 101 }},
		{"negative threshold", func(i *Indicator) { i.DeviationThresholdPercent = -1 }},
		{"zero baseline window", func(i *Indicator) { i.BaselineWindowMinutes = 0 }},
		{"negative cooldown", func(i *Indicator) { i.CooldownMinutes = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ind := validIndicator()
			tc.mutate(&ind)
			if err := ind.Validate(); err == nil {
				t.Fatalf("expected rejection")
			}
		})
	}
}

func TestDue(t *testing.T) {
	now := time.Now().UTC()
	ind := validIndicator()

	if !ind.Due(now) {
		t.Fatalf("never-run indicator must be due")
	}

	recent := now.Add(-2 * time.Minute)
	ind.LastRunAt = &recent
	if ind.Due(now) {
		t.Fatalf("recently run indicator must not be due")
	}

	stale := now.Add(-5 * time.Minute)
	ind.LastRunAt = &stale
	if !ind.Due(now) {
		t.Fatalf("indicator at exactly its frequency must be due")
	}

	ind.IsActive = false
	if ind.Due(now) {
		t.Fatalf("inactive indicator must never be due")
	}
}

func TestOutcomeValid(t *testing.T) {
	for _, o := range []Outcome{OutcomeSuccess, OutcomeBreached, OutcomeFailed} {
		if !o.Valid() {
			t.Fatalf("expected %q valid", o)
		}
	}
	if Outcome("exploded").Valid() {
		t.Fatalf("unknown outcome must be invalid")
	}
}

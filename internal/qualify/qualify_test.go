package qualify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Qualified
	}{
		{"unqualified", "mytopic-value", Qualified{Context: DefaultContext, Subject: "mytopic-value"}},
		{"qualified", ":.prod:mytopic-value", Qualified{Context: "prod", Subject: "mytopic-value"}},
		{"explicit default context", ":.:mytopic-value", Qualified{Context: DefaultContext, Subject: "mytopic-value"}},
		{"malformed prefix falls back to default", ":mytopic-value", Qualified{Context: DefaultContext, Subject: ":mytopic-value"}},
		{"empty string", "", Qualified{Context: DefaultContext, Subject: ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.raw))
		})
	}
}

func TestQualified_String(t *testing.T) {
	assert.Equal(t, "mytopic-value", Qualified{Context: DefaultContext, Subject: "mytopic-value"}.String())
	assert.Equal(t, "mytopic-value", Qualified{Subject: "mytopic-value"}.String())
	assert.Equal(t, ":.prod:mytopic-value", Qualified{Context: "prod", Subject: "mytopic-value"}.String())
}

func TestParse_RoundTrip(t *testing.T) {
	for _, subject := range []string{":.prod:orders-value", ":.staging:payments-value"} {
		q := Parse(subject)
		assert.Equal(t, subject, q.String())
	}
}

func TestQualified_IsDefault(t *testing.T) {
	assert.True(t, Qualified{Context: DefaultContext}.IsDefault())
	assert.False(t, Qualified{Context: "prod"}.IsDefault())
}

func TestQualify(t *testing.T) {
	assert.Equal(t, ":.prod:orders-value", Qualify("prod", "orders-value"))
	assert.Equal(t, "orders-value", Qualify(DefaultContext, "orders-value"))
}

func TestFallbackOrder(t *testing.T) {
	order := FallbackOrder([]string{"staging", "prod"})
	assert.Equal(t, []string{DefaultContext, "staging", "prod"}, order)
}

func TestFallbackOrder_IgnoresDefaultContextIfPresent(t *testing.T) {
	order := FallbackOrder([]string{DefaultContext, "prod"})
	assert.Equal(t, []string{DefaultContext, "prod"}, order)
}

func TestFallbackOrder_Empty(t *testing.T) {
	assert.Equal(t, []string{DefaultContext}, FallbackOrder(nil))
}

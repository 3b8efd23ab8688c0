package campaign

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractThreshold(t *testing.T) {
	pc := PersonalizationContext{
		AuditData: map[string]any{
			"monthly_leads": float64(40),
			"metrics":       map[string]any{"ctr": 2.5},
			"flat":          "x",
		},
		ChatInsights:    map[string]any{"goal": "book 5 calls"},
		CustomOverrides: map[string]string{"sessions": "6"},
	}
	def := "10"

	cases := []struct {
		name string
		path string
		want *string
	}{
		{"top level number", "audit.monthly_leads", ptr("40")},
		{"nested number", "audit.metrics.ctr", ptr("2.5")},
		{"chat string", "chat.goal", ptr("book 5 calls")},
		{"custom override", "custom.sessions", ptr("6")},
		{"missing key", "audit.unknown", &def},
		{"unknown root", "crm.deals", &def},
		{"scalar mid path", "audit.flat.deeper", &def},
		{"empty root map", "evidence.roi", &def},
		{"no key", "audit", &def},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ExtractThreshold(pc, tc.path, &def)
			require.NotNil(t, got)
			require.Equal(t, *tc.want, *got)
		})
	}

	require.Nil(t, ExtractThreshold(pc, "audit.unknown", nil))
}

func TestResolveTemplate(t *testing.T) {
	vars := map[string]string{"monthly_leads": "40", "target": "40"}

	require.Equal(t, "Generate 40 leads", ResolveTemplate("Generate {{monthly_leads}} leads", vars))
	require.Equal(t, "40 of 40", ResolveTemplate("{{target}} of {{monthly_leads}}", vars))
	require.Equal(t, "Keep {{unknown}} as is", ResolveTemplate("Keep {{unknown}} as is", vars))
	require.Equal(t, "no placeholders", ResolveTemplate("no placeholders", vars))
}

func TestMaterialize(t *testing.T) {
	pc := PersonalizationContext{
		AuditData:       map[string]any{"monthly_leads": float64(40)},
		CustomOverrides: map[string]string{"coach": "Sam"},
	}

	t.Run("threshold from context", func(t *testing.T) {
		m := materialize(CriteriaTemplate{
			LabelTemplate:       "Generate {{monthly_leads}} leads",
			DescriptionTemplate: ptr("Target {{target}} with {{coach}}"),
			ThresholdSource:     ptr("audit.monthly_leads"),
			ThresholdDefault:    ptr("25"),
		}, pc)
		require.Equal(t, "Generate 40 leads", m.Label)
		require.Equal(t, "Target 40 with Sam", *m.Description)
		require.Equal(t, "40", *m.TargetValue)
	})

	t.Run("falls back to default", func(t *testing.T) {
		m := materialize(CriteriaTemplate{
			LabelTemplate:    "Book {{calls}} calls",
			ThresholdSource:  ptr("chat.calls"),
			ThresholdDefault: ptr("3"),
		}, pc)
		require.Equal(t, "Book 3 calls", m.Label)
		require.Equal(t, "3", *m.TargetValue)
		require.Nil(t, m.Description)
	})

	t.Run("custom override wins", func(t *testing.T) {
		m := materialize(CriteriaTemplate{
			LabelTemplate:   "Meet {{coach}} for {{monthly_leads}}",
			ThresholdSource: ptr("audit.monthly_leads"),
		}, PersonalizationContext{
			AuditData:       map[string]any{"monthly_leads": float64(40)},
			CustomOverrides: map[string]string{"coach": "Sam", "monthly_leads": "50"},
		})
		require.Equal(t, "Meet Sam for 50", m.Label)
		require.Equal(t, "40", *m.TargetValue)
	})

	t.Run("no threshold", func(t *testing.T) {
		m := materialize(CriteriaTemplate{LabelTemplate: "Attend kickoff"}, pc)
		require.Equal(t, "Attend kickoff", m.Label)
		require.Nil(t, m.TargetValue)
	})
}

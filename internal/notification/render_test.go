package notification

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	cases := []struct {
		name string
		tmpl string
		data map[string]interface{}
		want string
	}{
		{
			name: "substitutes every key",
			tmpl: "Hello {{name}}, you have {{count}} bites",
			data: map[string]interface{}{"name": "Ann", "count": 5},
			want: "Hello Ann, you have 5 bites",
		},
		{
			name: "unknown placeholder passes through",
			tmpl: "{{x}}",
			data: map[string]interface{}{},
			want: "{{x}}",
		},
		{
			name: "nil data",
			tmpl: "Goal {{goal}}",
			want: "Goal {{goal}}",
		},
		{
			name: "repeated key",
			tmpl: "{{n}} and {{n}}",
			data: map[string]interface{}{"n": "again"},
			want: "again and again",
		},
		{
			name: "floats keep their precision",
			tmpl: "Pace {{pace}} bpm",
			data: map[string]interface{}{"pace": 18.5},
			want: "Pace 18.5 bpm",
		},
		{
			name: "json numbers decoded as float64 print as integers",
			tmpl: "{{bites}} bites",
			data: map[string]interface{}{"bites": float64(60)},
			want: "60 bites",
		},
		{
			name: "values are not rescanned",
			tmpl: "{{a}} {{b}}",
			data: map[string]interface{}{"a": "{{b}}", "b": "B"},
			want: "{{b}} B",
		},
		{
			name: "spaced placeholders are left alone",
			tmpl: "{{ title }} {{title}}",
			data: map[string]interface{}{"title": "Heads up"},
			want: "{{ title }} Heads up",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Render(tc.tmpl, tc.data))
		})
	}
}

func TestRenderIsDeterministic(t *testing.T) {
	data := map[string]interface{}{"bites": 60, "goal": 50}
	tmpl := "You hit {{bites}} of {{goal}}"

	first := Render(tmpl, data)
	require.Equal(t, first, Render(tmpl, data))
	require.Equal(t, "You hit 60 of 50", first)
}

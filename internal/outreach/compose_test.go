package outreach

import (
	"reflect"
	"testing"
)

func TestComposeRotation(t *testing.T) {
	t.Parallel()
	c := NewComposer([]string{"a", "b", "c"})
	want := []int{0, 1, 2, 0, 1, 2, 0}
	for i, w := range want {
		idx, text, _ := c.Compose(i, nil)
		if idx != w {
			t.Fatalf("attempt %d: idx = %d, want %d", i, idx, w)
		}
		if text != []string{"a", "b", "c"}[w] {
			t.Fatalf("attempt %d: text = %q", i, text)
		}
	}
}

func TestComposeEmptyTemplates(t *testing.T) {
	t.Parallel()
	c := NewComposer(nil)
	idx, text, missing := c.Compose(5, map[string]string{"first_name": "Al"})
	if idx != 0 || text != "" || missing != nil {
		t.Fatalf("got (%d, %q, %v), want (0, \"\", nil)", idx, text, missing)
	}
}

func TestRender(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		tpl     string
		vars    map[string]string
		want    string
		missing []string
	}{
		{
			name: "full substitution",
			tpl:  "Hi {first_name}! Join {channel_link}",
			vars: map[string]string{"first_name": "Alice", "channel_link": "t.me/x"},
			want: "Hi Alice! Join t.me/x",
		},
		{
			name:    "missing key left verbatim",
			tpl:     "Hi {first_name}, see {promo_code}",
			vars:    map[string]string{"first_name": "Bob"},
			want:    "Hi Bob, see {promo_code}",
			missing: []string{"promo_code"},
		},
		{
			name: "empty value still substitutes",
			tpl:  "Hi {first_name}!",
			vars: map[string]string{"first_name": ""},
			want: "Hi !",
		},
		{
			name: "unclosed brace passes through",
			tpl:  "weird {brace",
			vars: map[string]string{"brace": "x"},
			want: "weird {brace",
		},
		{
			name: "no placeholders",
			tpl:  "plain text",
			vars: map[string]string{"first_name": "x"},
			want: "plain text",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, missing := render(tt.tpl, tt.vars)
			if got != tt.want {
				t.Fatalf("render = %q, want %q", got, tt.want)
			}
			if !reflect.DeepEqual(missing, tt.missing) {
				t.Fatalf("missing = %v, want %v", missing, tt.missing)
			}
		})
	}
}

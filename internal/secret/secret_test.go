package secret

import (
	"regexp"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestGenerateFormat(t *testing.T) {
	g := MustGenerator("tvly", "")
	re := regexp.MustCompile(`^tvly-[0-9a-z]{32}$`)

	for i := 0; i < 200; i++ {
		s, err := g.Generate()
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		if !re.MatchString(s) {
			t.Fatalf("secret %q does not match %s", s, re)
		}
		if !g.Matches(s) {
			t.Fatalf("Matches(%q) = false", s)
		}
	}
}

func TestGenerateUnique(t *testing.T) {
	g := MustGenerator("", "")
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		s, err := g.Generate()
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		if seen[s] {
			t.Fatalf("duplicate secret after %d draws: %s", i, s)
		}
		seen[s] = true
	}
}

func TestGenerateCustomAlphabet(t *testing.T) {
	g := MustGenerator("cursor", "abcdef")
	s, err := g.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	body := strings.TrimPrefix(s, "cursor-")
	if len(body) != Length {
		t.Fatalf("body length = %d, want %d", len(body), Length)
	}
	if strings.Trim(body, "abcdef") != "" {
		t.Errorf("body %q has symbols outside the alphabet", body)
	}
}

func TestNewGeneratorRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name     string
		prefix   string
		alphabet string
	}{
		{"prefix with separator", "sk-live", ""},
		{"single symbol alphabet", "", "a"},
		{"duplicate symbols", "", "aab"},
		{"alphabet with separator", "", "ab-"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewGenerator(tt.prefix, tt.alphabet); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestMatches(t *testing.T) {
	g := MustGenerator("sk", "")
	tests := []struct {
		in   string
		want bool
	}{
		{"sk-" + strings.Repeat("a", 32), true},
		{"sk-" + strings.Repeat("a", 31), false},
		{"sk-" + strings.Repeat("A", 32), false},
		{"tvly-" + strings.Repeat("a", 32), false},
		{"", false},
	}
	for _, tt := range tests {
		if got := g.Matches(tt.in); got != tt.want {
			t.Errorf("Matches(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestMask(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"generated secret", "tvly-" + strings.Repeat("x", 32), "tvly-" + strings.Repeat(Bullet, 32)},
		{"short remainder", "sk-abc", "sk-" + strings.Repeat(Bullet, 3)},
		{"long remainder capped", "tvly-" + strings.Repeat("f", 64), "tvly-" + strings.Repeat(Bullet, 32)},
		{"no separator", "plainsecret", "plainsecret"},
		{"empty", "", ""},
		{"split on first separator only", "a-b-c", "a-" + strings.Repeat(Bullet, 3)},
		{"empty remainder", "sk-", "sk-"},
		{"empty prefix", "-abcd", "-" + strings.Repeat(Bullet, 4)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Mask(tt.in); got != tt.want {
				t.Errorf("Mask(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestMaskLengthProperty(t *testing.T) {
	for n := 0; n <= 80; n++ {
		s := "pre-" + strings.Repeat("z", n)
		got := Mask(s)
		want := len("pre") + 1 + min(n, 32)
		if utf8.RuneCountInString(got) != want {
			t.Errorf("n=%d: rune length = %d, want %d", n, utf8.RuneCountInString(got), want)
		}
		if !strings.HasPrefix(got, "pre-") {
			t.Errorf("n=%d: masked value %q lost its prefix", n, got)
		}
	}
}

func TestMaskDoesNotLeakBody(t *testing.T) {
	g := MustGenerator("", "")
	s, err := g.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	body := strings.TrimPrefix(s, g.Prefix()+"-")
	if strings.Contains(Mask(s), body) {
		t.Errorf("masked value %q contains the body", Mask(s))
	}
}

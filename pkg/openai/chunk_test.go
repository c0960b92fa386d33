package openai

import (
	"math/rand"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitChunks(t *testing.T) {
	t.Run("exact pieces", func(t *testing.T) {
		got := SplitChunks("abcdefg", 3)
		want := []string{"abc", "def", "g"}
		if strings.Join(got, "|") != strings.Join(want, "|") {
			t.Fatalf("expected %v, got %v", want, got)
		}
	})

	t.Run("multibyte characters stay whole", func(t *testing.T) {
		chunks := SplitChunks("💭🔧✅❌", 2)
		if len(chunks) != 2 || chunks[0] != "💭🔧" || chunks[1] != "✅❌" {
			t.Fatalf("unexpected chunks %q", chunks)
		}
	})

	t.Run("empty", func(t *testing.T) {
		if got := SplitChunks("", 5); len(got) != 0 {
			t.Fatalf("expected no chunks, got %v", got)
		}
	})

	t.Run("concatenation reconstructs input", func(t *testing.T) {
		rng := rand.New(rand.NewSource(42))
		alphabet := []rune("ab \n<>`💭é")
		for i := 0; i < 500; i++ {
			n := rng.Intn(300)
			runes := make([]rune, n)
			for j := range runes {
				runes[j] = alphabet[rng.Intn(len(alphabet))]
			}
			s := string(runes)
			size := 1 + rng.Intn(120)

			chunks := SplitChunks(s, size)
			if strings.Join(chunks, "") != s {
				t.Fatalf("size %d: chunks do not rebuild %q", size, s)
			}
			for k, c := range chunks {
				if runeCount(c) > size || (k < len(chunks)-1 && runeCount(c) != size) {
					t.Fatalf("size %d: bad chunk %d %q", size, k, c)
				}
			}
		}
	})
}

func runeCount(s string) int { return utf8.RuneCountInString(s) }

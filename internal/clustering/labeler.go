package clustering

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/kalambet/docintel/internal/engine"
)

const (
	samplesPerLabel = 5
	maxNameWords    = 5
	maxSampleRunes  = 600
	maxCachedNames  = 1024
)

const labelPrompt = `Below are excerpts from pages that belong to the same topic.
Reply with a short topic name of at most five words. Reply with the name only.

%s`

// Labeler names clusters by asking a text generator to summarize a few
// representative pages. Names are cached by the excerpts they were generated
// from, so re-clustering unchanged pages costs no generator calls.
type Labeler struct {
	gen    engine.Generator
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]string
}

// NewLabeler returns a Labeler. A nil gen makes every cluster fall back to
// "Topic N".
func NewLabeler(gen engine.Generator, logger *slog.Logger) *Labeler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Labeler{gen: gen, logger: logger, cache: make(map[string]string)}
}

// Label returns a name for cluster label given its pages' texts in document
// order. Only the first five texts are used. It never fails: an empty or
// failed generation yields "Topic N" with N = label+1.
func (l *Labeler) Label(ctx context.Context, label int, texts []string) string {
	fallback := fmt.Sprintf("Topic %d", label+1)
	if l.gen == nil || len(texts) == 0 {
		return fallback
	}
	if len(texts) > samplesPerLabel {
		texts = texts[:samplesPerLabel]
	}

	var b strings.Builder
	for i, t := range texts {
		fmt.Fprintf(&b, "[%d] %s\n\n", i+1, truncateRunes(strings.TrimSpace(t), maxSampleRunes))
	}
	prompt := fmt.Sprintf(labelPrompt, b.String())
	key := cacheKey(prompt)

	l.mu.Lock()
	name, ok := l.cache[key]
	l.mu.Unlock()
	if ok {
		return name
	}

	out, err := l.gen.Generate(ctx, prompt)
	if err != nil {
		l.logger.Warn("cluster label generation failed", "label", label, "error", err)
		return fallback
	}
	name = cleanName(out)
	if name == "" {
		return fallback
	}

	l.mu.Lock()
	if len(l.cache) >= maxCachedNames {
		clear(l.cache)
	}
	l.cache[key] = name
	l.mu.Unlock()
	return name
}

var listMarker = regexp.MustCompile(`^(?:[-*#]+|\d+[.)])\s*`)

// cleanName keeps the first non-empty line, strips list markers and quotes,
// and cuts it to maxNameWords words.
func cleanName(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		line = listMarker.ReplaceAllString(line, "")
		line = strings.TrimPrefix(line, "Topic name:")
		line = strings.Trim(strings.TrimSpace(line), "\"'`*.")
		if line == "" {
			continue
		}
		words := strings.Fields(line)
		if len(words) > maxNameWords {
			words = words[:maxNameWords]
		}
		return strings.Join(words, " ")
	}
	return ""
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func cacheKey(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

// Package captcha pre-renders map CAPTCHA challenges.
//
// Artifacts are rendered once at startup and handed out to verification
// sessions from a once-consumable pool. There is no replenishment: a drained
// pool degrades the CAPTCHA check, it never blocks admission.
package captcha

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"math/rand/v2"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/udisondev/mcguard/internal/telemetry"
)

// Artifact is one pre-rendered challenge: the expected answer and the
// 128x128 map palette image shown to the client.
type Artifact struct {
	Answer string
	Image  []byte // 16384 palette indices
	ID     int32
}

// Config holds generation parameters.
type Config struct {
	Alphabet       string
	CodeLength     int
	BackgroundPath string // optional PNG, scaled to 128x128
}

// Generator renders artifacts and owns the pool.
type Generator struct {
	alphabet   []rune
	codeLength int
	background image.Image // nil = solid background

	nextID atomic.Int32

	mu   sync.Mutex
	pool []*Artifact
}

// NewGenerator creates a generator. The background image, if configured,
// is loaded eagerly so a bad path fails at startup rather than mid-flood.
func NewGenerator(cfg Config) (*Generator, error) {
	if len(cfg.Alphabet) == 0 {
		return nil, fmt.Errorf("captcha alphabet is empty")
	}
	if cfg.CodeLength <= 0 {
		return nil, fmt.Errorf("captcha code length must be positive, got %d", cfg.CodeLength)
	}

	g := &Generator{
		alphabet:   []rune(strings.ToUpper(cfg.Alphabet)),
		codeLength: cfg.CodeLength,
	}

	if cfg.BackgroundPath != "" {
		f, err := os.Open(cfg.BackgroundPath)
		if err != nil {
			return nil, fmt.Errorf("opening captcha background: %w", err)
		}
		defer f.Close()
		img, err := png.Decode(f)
		if err != nil {
			return nil, fmt.Errorf("decoding captcha background: %w", err)
		}
		g.background = img
	}

	return g, nil
}

// Prime pre-renders n artifacts in parallel and fills the pool.
// Called once during enable.
func (g *Generator) Prime(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}

	artifacts := make([]*Artifact, n)

	eg, _ := errgroup.WithContext(ctx)
	eg.SetLimit(8)
	for i := range artifacts {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			artifacts[i] = g.render()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return fmt.Errorf("priming captcha pool: %w", err)
	}

	g.mu.Lock()
	g.pool = append(g.pool, artifacts...)
	size := len(g.pool)
	g.mu.Unlock()

	telemetry.CaptchaPoolSize.Set(float64(size))
	slog.Info("captcha pool primed", "artifacts", n)
	return nil
}

// Take removes one artifact from the pool. Returns nil when the pool is
// empty; the caller degrades the check instead of failing the session.
func (g *Generator) Take() *Artifact {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.pool) == 0 {
		return nil
	}

	i := rand.IntN(len(g.pool))
	a := g.pool[i]
	last := len(g.pool) - 1
	g.pool[i] = g.pool[last]
	g.pool[last] = nil
	g.pool = g.pool[:last]

	telemetry.CaptchaPoolSize.Set(float64(len(g.pool)))
	return a
}

// Len returns the current pool size.
func (g *Generator) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pool)
}

func (g *Generator) code() string {
	var sb strings.Builder
	for range g.codeLength {
		sb.WriteRune(g.alphabet[rand.IntN(len(g.alphabet))])
	}
	return sb.String()
}

func (g *Generator) render() *Artifact {
	answer := g.code()
	return &Artifact{
		Answer: answer,
		Image:  renderImage(answer, g.background),
		ID:     g.nextID.Add(1),
	}
}

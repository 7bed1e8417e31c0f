package recorder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lexiqai/voice-scribe/internal/observability"
	"github.com/lexiqai/voice-scribe/internal/session"
)

// Recover processes session directories left behind by an abnormal termination.
// Each recovered session is transcribed and delivered like a stopped one, then removed.
func (c *Coordinator) Recover(ctx context.Context) (int, error) {
	dirs, err := session.FindOrphans(c.cfg.DataDir)
	if err != nil {
		return 0, fmt.Errorf("scan for orphaned sessions: %w", err)
	}

	recovered := 0
	for _, dir := range dirs {
		if ctx.Err() != nil {
			return recovered, ctx.Err()
		}

		m, err := session.ReadManifest(dir)
		if err != nil {
			c.logger.Error().Err(err).Str("dir", dir).Msg("unreadable manifest, skipping")
			continue
		}
		if active, ok := c.deps.Registry.Get(m.ScopeID); ok && active.ID == m.SessionID {
			continue
		}

		logger := observability.WithSession(m.ScopeID, m.SessionID)

		var tracks []Track
		for _, p := range m.Participants {
			raw := filepath.Join(dir, p.RawFile)
			if _, err := os.Stat(raw); err != nil {
				continue // already folded into an artifact before the crash
			}
			tracks = append(tracks, Track{
				ParticipantID: p.ID,
				Label:         p.Label,
				Order:         p.Order,
				Source:        raw,
			})
		}

		logger.Info().Int("participants", len(tracks)).Str("state", m.State).Msg("recovering orphaned session")
		c.deps.Reporter.Status(ctx, m.ScopeID, m.SessionID,
			"Recovering an interrupted recording from %s (%d participant(s)).", m.StartedAt.Format(time.RFC1123), len(tracks))

		report := c.process(ctx, Job{
			ScopeID:   m.ScopeID,
			SessionID: m.SessionID,
			Title:     "Session " + m.ScopeID + " (recovered)",
			StartedAt: m.StartedAt,
			WorkDir:   dir,
			OutputDir: c.outputDir(m.ScopeID, m.SessionID),
			Tracks:    tracks,
		}, logger)

		if ctx.Err() != nil {
			return recovered, ctx.Err()
		}
		if !keptInside(report, dir) {
			if err := os.RemoveAll(dir); err != nil {
				logger.Warn().Err(err).Msg("failed to remove recovered session directory")
			}
			os.Remove(filepath.Dir(dir))
		}
		recovered++
	}
	return recovered, nil
}

// ProcessFile transcribes one audio file as a single-participant import.
// The source file is left in place.
func (c *Coordinator) ProcessFile(ctx context.Context, path, label string) (*Report, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if label == "" {
		label = base
	}
	id := uuid.New().String()
	scope := "import"

	workDir := filepath.Join(c.cfg.DataDir, "_imports", id)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	logger := observability.WithSession(scope, id).With().Str("file", path).Logger()
	logger.Info().Msg("processing imported file")

	report := c.process(ctx, Job{
		ScopeID:   scope,
		SessionID: id,
		Title:     base,
		StartedAt: time.Now(),
		WorkDir:   workDir,
		OutputDir: filepath.Join(c.cfg.OutputDir, "imports", session.SafeName(base)+"-"+id[:8]),
		Tracks: []Track{{
			ParticipantID: session.SafeName(label),
			Label:         label,
			Source:        path,
			Encoded:       true,
		}},
	}, logger)

	if report.Succeeded() == 0 {
		return report, fmt.Errorf("no transcript produced for %s", filepath.Base(path))
	}
	return report, nil
}

func keptInside(report *Report, dir string) bool {
	for _, f := range report.Fragments {
		if f.Kept != "" && strings.HasPrefix(f.Kept, dir) {
			return true
		}
	}
	return false
}

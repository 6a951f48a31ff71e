package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"followup-engine/backend/internal/ai"
	"followup-engine/backend/internal/conversation"
	"followup-engine/backend/internal/messaging"
	"followup-engine/backend/internal/prompts"
	"followup-engine/backend/internal/signals"
	"followup-engine/backend/internal/store"
	"followup-engine/backend/internal/worker"
)

type transcriptResult struct {
	Source     string           `json:"source"`
	Analysis   signals.Analysis `json:"analysis"`
	Escalation bool             `json:"needs_escalation"`
}

func main() {
	var (
		driver     = flag.String("driver", "sqlite", "Database driver (sqlite or postgres)")
		dsn        = flag.String("db", filepath.FromSlash("data/followup.db"), "SQLite path or postgres connection string")
		limit      = flag.Int("limit", 500, "Maximum number of pending interactions to analyze")
		workers    = flag.Int("workers", 0, "Parallel analyses (0 sizes from CPU count)")
		outputPath = flag.String("output", "", "Optional path to write JSON results")
		texts      multiFlag
		files      multiFlag
	)
	flag.Var(&texts, "text", "Transcript text to analyze without a database (repeatable)")
	flag.Var(&files, "file", "Transcript file to analyze without a database (repeatable)")
	flag.Parse()

	var results any
	if len(texts) > 0 || len(files) > 0 {
		results = analyzeTranscripts(texts, files)
	} else {
		results = analyzePending(*driver, *dsn, *limit, *workers)
	}

	if err := writeJSON(*outputPath, results); err != nil {
		logrus.Fatalf("write results: %v", err)
	}
}

func analyzeTranscripts(texts, files []string) []transcriptResult {
	out := make([]transcriptResult, 0, len(texts)+len(files))
	for i, text := range texts {
		analysis := signals.Analyze(text)
		out = append(out, transcriptResult{Source: "text#" + strconv.Itoa(i+1), Analysis: analysis, Escalation: analysis.NeedsEscalation()})
	}
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			logrus.WithError(err).WithField("file", path).Warn("skipping transcript file")
			continue
		}
		analysis := signals.Analyze(string(data))
		out = append(out, transcriptResult{Source: path, Analysis: analysis, Escalation: analysis.NeedsEscalation()})
	}
	return out
}

func analyzePending(driver, dsn string, limit, workers int) []conversation.InteractionResult {
	db, err := store.Open(driver, dsn, true)
	if err != nil {
		logrus.Fatalf("open database: %v", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			logrus.WithError(cerr).Warn("close database")
		}
	}()

	resolver, err := prompts.NewResolver()
	if err != nil {
		logrus.Fatalf("load prompts: %v", err)
	}
	orchestrator := conversation.New(db, ai.NewGateway(nil), resolver, messaging.NewMockAdapter())

	ctx := context.Background()
	pending, err := db.PendingInteractions(ctx, limit)
	if err != nil {
		logrus.Fatalf("list pending interactions: %v", err)
	}
	logrus.WithField("pending", len(pending)).Info("analyzing stored interactions")

	start := time.Now()
	runner := worker.New(workers, len(pending))
	var (
		mu      sync.Mutex
		results = make([]conversation.InteractionResult, 0, len(pending))
	)
	for _, interaction := range pending {
		id := interaction.ID
		err := runner.Submit(worker.InteractionKey(id), "analyze_interaction", func(ctx context.Context) error {
			result, err := orchestrator.ProcessInteraction(ctx, id)
			if err != nil {
				return err
			}
			mu.Lock()
			results = append(results, result)
			mu.Unlock()
			return nil
		})
		if err != nil {
			logrus.WithError(err).WithField("interaction_id", id).Warn("skipping interaction")
		}
	}
	if err := runner.Shutdown(); err != nil {
		logrus.WithError(err).Warn("worker shutdown")
	}

	escalated := 0
	for _, r := range results {
		if r.Escalated {
			escalated++
		}
	}
	logrus.WithFields(logrus.Fields{
		"analyzed":  len(results),
		"escalated": escalated,
		"duration":  time.Since(start).Round(time.Millisecond),
	}).Info("interaction analysis complete")
	return results
}

func writeJSON(path string, payload any) error {
	var w io.Writer = os.Stdout
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		file, err := os.Create(path)
		if err != nil {
			return err
		}
		defer file.Close()
		w = file
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}

type multiFlag []string

func (m *multiFlag) String() string {
	return strings.Join(*m, ",")
}

func (m *multiFlag) Set(value string) error {
	*m = append(*m, value)
	return nil
}

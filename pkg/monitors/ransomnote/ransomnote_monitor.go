// Package ransomnote implements the content pathway: the text of newly
// created files is classified and the creator of a ransom note is killed.
package ransomnote

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/lucid-vigil/ransomguard/pkg/classifier"
	deterrors "github.com/lucid-vigil/ransomguard/pkg/errors"
	"github.com/lucid-vigil/ransomguard/pkg/events"
	"github.com/lucid-vigil/ransomguard/pkg/metrics"
	"github.com/lucid-vigil/ransomguard/pkg/monitors/base"
	"github.com/lucid-vigil/ransomguard/pkg/response"
	"github.com/lucid-vigil/ransomguard/pkg/verdict"
	"github.com/rs/zerolog"
)

const pathway = "ransomnote"

// DefaultMaxBytes bounds how much of a file is read for classification.
const DefaultMaxBytes = 64 << 10

// Terminator is the part of the response controller this pathway uses.
type Terminator interface {
	Terminate(ctx context.Context, t response.Target) response.Outcome
}

// RansomNoteMonitor classifies created text files.
type RansomNoteMonitor struct {
	*base.BaseMonitor
	classifier classifier.Classifier
	terminator Terminator
	resolver   *base.PathResolver
	maxBytes   int64
	metrics    *metrics.Metrics
	errors     *deterrors.ErrorHandler
}

// NewRansomNoteMonitor creates the content pathway. m may be nil.
func NewRansomNoteMonitor(c classifier.Classifier, term Terminator, resolver *base.PathResolver, maxBytes int64, logger zerolog.Logger, m *metrics.Metrics) *RansomNoteMonitor {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	bm := base.NewBaseMonitor(pathway, logger)
	var collector deterrors.ErrorCollector
	if m != nil {
		collector = m
	}
	return &RansomNoteMonitor{
		BaseMonitor: bm,
		classifier:  c,
		terminator:  term,
		resolver:    resolver,
		maxBytes:    maxBytes,
		metrics:     m,
		errors:      deterrors.NewErrorHandler(*bm.Logger(), collector),
	}
}

// HandleCreated classifies one created file and terminates its creator when
// the text is a ransom note. Empty and unreadable files are skipped.
func (rm *RansomNoteMonitor) HandleCreated(ctx context.Context, ev events.Event) (verdict.Verdict, bool) {
	rm.Inc("created")
	pid := ev.ProcessID()

	path, err := rm.resolver.Resolve(ctx, pid, ev.Filename)
	if err != nil {
		rm.skip(ctx, deterrors.NewResolutionError(pathway, pid, ev.Filename, err))
		return verdict.Verdict{}, false
	}

	text, err := readText(path, rm.maxBytes)
	if err != nil {
		rm.skip(ctx, deterrors.NewTransientError(pathway, "read", path, err))
		return verdict.Verdict{}, false
	}
	if strings.TrimSpace(text) == "" {
		rm.Inc("empty")
		rm.metrics.FileScanned(pathway, "empty")
		return verdict.Verdict{}, false
	}

	res, err := rm.classifier.Classify(ctx, text)
	if err != nil {
		rm.skip(ctx, deterrors.NewTransientError(pathway, "classify", path, err))
		return verdict.Verdict{}, false
	}

	if res.Label != classifier.Malicious {
		rm.Inc("benign")
		rm.metrics.FileScanned(pathway, "benign")
		rm.RecordRun(nil)
		rm.Logger().Debug().Str("path", path).Float64("score", res.Score).Uint32("pid", pid).Str("comm", ev.Comm).Msg("Process is benign")
		return verdict.Verdict{}, false
	}

	rm.Inc("malicious")
	rm.metrics.FileScanned(pathway, "malicious")
	rm.Logger().Warn().
		Str("path", path).
		Float64("score", res.Score).
		Uint32("pid", pid).
		Str("comm", ev.Comm).
		Msg("Ransom note created, terminating creator")

	out := rm.terminator.Terminate(ctx, response.Target{Comm: ev.Comm, Pid: pid})
	rm.RecordRun(out.Err)

	v := verdict.New(verdict.SourceRansomNote)
	v.Comm = ev.Comm
	v.Pid = pid
	v.Filename = ev.Filename
	v.Path = path
	v.Score = res.Score
	v.Action = out.Action
	v.Status = string(out.Status)
	return v, true
}

func (rm *RansomNoteMonitor) skip(ctx context.Context, err *deterrors.DetectorError) {
	rm.Inc("skipped")
	rm.metrics.FileScanned(pathway, "skipped")
	rm.RecordRun(err)
	rm.errors.HandleError(ctx, err)
}

// readText reads at most max bytes and drops invalid UTF-8, so binary
// content reduces to whatever text it carries.
func readText(path string, max int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%s is not a regular file", path)
	}

	data, err := io.ReadAll(io.LimitReader(f, max))
	if err != nil {
		return "", err
	}
	if utf8.Valid(data) {
		return string(data), nil
	}
	return strings.ToValidUTF8(string(data), ""), nil
}

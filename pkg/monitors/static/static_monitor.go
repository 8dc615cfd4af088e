// Package static implements the hash pathway: newly created files whose
// content digest is on the denylist are deleted.
package static

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	deterrors "github.com/lucid-vigil/ransomguard/pkg/errors"
	"github.com/lucid-vigil/ransomguard/pkg/events"
	"github.com/lucid-vigil/ransomguard/pkg/metrics"
	"github.com/lucid-vigil/ransomguard/pkg/monitors/base"
	"github.com/lucid-vigil/ransomguard/pkg/response"
	"github.com/lucid-vigil/ransomguard/pkg/signatures"
	"github.com/lucid-vigil/ransomguard/pkg/verdict"
	"github.com/rs/zerolog"
)

const pathway = "static"

// FileDeleter is the part of the response controller this pathway uses.
type FileDeleter interface {
	DeleteFile(ctx context.Context, path string) response.Outcome
}

// Denylist reports membership of a hex sha256 digest.
type Denylist interface {
	Contains(digest string) bool
}

var _ Denylist = (*signatures.Store)(nil)

// StaticMonitor hashes created files and removes known-malicious ones.
type StaticMonitor struct {
	*base.BaseMonitor
	denylist Denylist
	deleter  FileDeleter
	resolver *base.PathResolver
	metrics  *metrics.Metrics
	errors   *deterrors.ErrorHandler
}

// NewStaticMonitor creates the hash pathway. m may be nil.
func NewStaticMonitor(denylist Denylist, deleter FileDeleter, resolver *base.PathResolver, logger zerolog.Logger, m *metrics.Metrics) *StaticMonitor {
	bm := base.NewBaseMonitor(pathway, logger)
	var collector deterrors.ErrorCollector
	if m != nil {
		collector = m
	}
	return &StaticMonitor{
		BaseMonitor: bm,
		denylist:    denylist,
		deleter:     deleter,
		resolver:    resolver,
		metrics:     m,
		errors:      deterrors.NewErrorHandler(*bm.Logger(), collector),
	}
}

// HandleCreated inspects one created file. It returns a verdict when the
// file was on the denylist; every failure is logged and skipped.
func (sm *StaticMonitor) HandleCreated(ctx context.Context, ev events.Event) (verdict.Verdict, bool) {
	sm.Inc("created")

	path, err := sm.resolver.Resolve(ctx, ev.ProcessID(), ev.Filename)
	if err != nil {
		sm.skip(ctx, deterrors.NewResolutionError(pathway, ev.ProcessID(), ev.Filename, err))
		return verdict.Verdict{}, false
	}

	digest, err := HashFile(path)
	if err != nil {
		sm.skip(ctx, deterrors.NewTransientError(pathway, "hash", path, err))
		return verdict.Verdict{}, false
	}

	if !sm.denylist.Contains(digest) {
		sm.Inc("clean")
		sm.metrics.FileScanned(pathway, "clean")
		sm.RecordRun(nil)
		sm.Logger().Debug().Str("path", path).Str("digest", digest).Msg("Created file is not on the denylist")
		return verdict.Verdict{}, false
	}

	sm.Inc("malicious")
	sm.metrics.FileScanned(pathway, "malicious")
	sm.Logger().Warn().
		Str("path", path).
		Str("digest", digest).
		Str("comm", ev.Comm).
		Uint32("pid", ev.ProcessID()).
		Msg("Created file matches denylisted digest")

	out := sm.deleter.DeleteFile(ctx, path)
	sm.RecordRun(out.Err)

	v := verdict.New(verdict.SourceStatic)
	v.Comm = ev.Comm
	v.Pid = ev.ProcessID()
	v.Filename = ev.Filename
	v.Path = path
	v.Digest = digest
	v.Action = out.Action
	v.Status = string(out.Status)
	return v, true
}

func (sm *StaticMonitor) skip(ctx context.Context, err *deterrors.DetectorError) {
	sm.Inc("skipped")
	sm.metrics.FileScanned(pathway, "skipped")
	sm.RecordRun(err)
	sm.errors.HandleError(ctx, err)
}

// HashFile returns the hex sha256 digest of the file at path.
func HashFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

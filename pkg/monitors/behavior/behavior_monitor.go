// Package behavior implements the periodic control loop of the behavioral
// pathway: drain the aggregator, match every sequence, respond to the
// entities whose match count exceeds the threshold.
package behavior

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/lucid-vigil/ransomguard/pkg/aggregator"
	"github.com/lucid-vigil/ransomguard/pkg/ahocorasick"
	"github.com/lucid-vigil/ransomguard/pkg/metrics"
	"github.com/lucid-vigil/ransomguard/pkg/monitors/base"
	"github.com/lucid-vigil/ransomguard/pkg/response"
	"github.com/lucid-vigil/ransomguard/pkg/verdict"
	"github.com/rs/zerolog"
)

const name = "behavior"

// DefaultThreshold is the match count a record must exceed.
const DefaultThreshold = 10

// Drainer yields and clears the accumulated sequences.
type Drainer interface {
	DrainAndClear() []aggregator.SequenceRecord
}

// Matcher finds pattern occurrences in a sequence.
type Matcher interface {
	Search(text string) []ahocorasick.Match
	Pattern(id int) string
}

// Terminator is the part of the response controller this pathway uses.
type Terminator interface {
	Terminate(ctx context.Context, t response.Target) response.Outcome
}

// CycleResult summarizes one control loop cycle.
type CycleResult struct {
	Records   int               `json:"records"`
	Matches   int               `json:"matches"`
	Discarded int               `json:"discarded"`
	Verdicts  []verdict.Verdict `json:"verdicts,omitempty"`
	Duration  time.Duration     `json:"duration"`
}

// BehaviorMonitor is the control loop. Cycles are run by one scheduler
// goroutine and never overlap.
type BehaviorMonitor struct {
	*base.BaseMonitor
	drainer    Drainer
	matcher    Matcher
	threshold  int
	terminator Terminator
	publisher  verdict.Publisher
	report     io.Writer
	metrics    *metrics.Metrics
}

// NewBehaviorMonitor wires the control loop. report receives the per-cycle
// table and may be nil; publisher and m may be nil too.
func NewBehaviorMonitor(d Drainer, mt Matcher, threshold int, term Terminator, pub verdict.Publisher, report io.Writer, logger zerolog.Logger, m *metrics.Metrics) *BehaviorMonitor {
	return &BehaviorMonitor{
		BaseMonitor: base.NewBaseMonitor(name, logger),
		drainer:     d,
		matcher:     mt,
		threshold:   threshold,
		terminator:  term,
		publisher:   pub,
		report:      report,
		metrics:     m,
	}
}

// Run implements scheduler.Monitor.
func (bm *BehaviorMonitor) Run(ctx context.Context) {
	bm.RunCycle(ctx)
}

// RunCycle drains the aggregator and processes every record once. A record
// whose total match count is strictly greater than the threshold gets one
// verdict and one termination. Records are discarded afterwards either way.
// Once ctx is cancelled no further responses are issued and the remaining
// records are discarded.
func (bm *BehaviorMonitor) RunCycle(ctx context.Context) CycleResult {
	start := time.Now()
	records := bm.drainer.DrainAndClear()
	res := CycleResult{Records: len(records)}

	var tw *tabwriter.Writer
	if bm.report != nil && len(records) > 0 {
		tw = tabwriter.NewWriter(bm.report, 0, 8, 2, ' ', 0)
		fmt.Fprintln(tw, "TGID\tCOMM\tFILENAME\tPATTERN\tMATCHES")
	}

	var exceeded []string
	for i, rec := range records {
		if ctx.Err() != nil {
			res.Discarded = len(records) - i
			bm.Logger().Info().Int("discarded", res.Discarded).Msg("Shutdown requested, discarding remaining records")
			break
		}

		matches := bm.matcher.Search(rec.Sequence)
		res.Matches += len(matches)
		if tw != nil {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\n", rec.Key.Tgid, rec.Comm, rec.Key.Filename, rec.Sequence, len(matches))
		}

		if len(matches) <= bm.threshold {
			continue
		}
		matched := bm.matchedPatterns(matches)
		exceeded = append(exceeded, fmt.Sprintf("Pattern [%s] exceeded %d", strings.Join(matched, ", "), bm.threshold))
		res.Verdicts = append(res.Verdicts, bm.respond(ctx, rec, matched, len(matches)))
	}

	if tw != nil {
		tw.Flush()
		for _, line := range exceeded {
			fmt.Fprintln(bm.report, line)
		}
	}

	res.Duration = time.Since(start)
	bm.metrics.CycleCompleted(res.Records, res.Matches, res.Duration)
	bm.Inc("cycles")
	bm.Add("records", uint64(res.Records))
	bm.Add("detections", uint64(len(res.Verdicts)))
	bm.RecordRun(nil)
	return res
}

func (bm *BehaviorMonitor) respond(ctx context.Context, rec aggregator.SequenceRecord, matched []string, count int) verdict.Verdict {
	bm.Logger().Warn().
		Uint32("tgid", rec.Key.Tgid).
		Str("comm", rec.Comm).
		Str("filename", rec.Key.Filename).
		Str("sequence", rec.Sequence).
		Strs("patterns", matched).
		Int("matches", count).
		Int("threshold", bm.threshold).
		Msg("Ransomware behavior detected")

	out := bm.terminator.Terminate(ctx, response.Target{Comm: rec.Comm, Pid: rec.Pid})

	v := verdict.New(verdict.SourceBehavioral)
	v.Comm = rec.Comm
	v.Pid = rec.Pid
	v.Filename = rec.Key.Filename
	v.Sequence = rec.Sequence
	v.Matches = count
	v.Patterns = matched
	v.Threshold = bm.threshold
	v.Action = out.Action
	v.Status = string(out.Status)

	bm.metrics.VerdictEmitted(string(v.Source))
	if bm.publisher != nil {
		if err := bm.publisher.Publish(ctx, v); err != nil {
			bm.Logger().Warn().Err(err).Str("verdict_id", v.ID).Msg("Failed to publish verdict")
		}
	}
	return v
}

// matchedPatterns returns the distinct patterns that matched, sorted.
func (bm *BehaviorMonitor) matchedPatterns(matches []ahocorasick.Match) []string {
	seen := make(map[int]bool, len(matches))
	var out []string
	for _, m := range matches {
		if seen[m.PatternID] {
			continue
		}
		seen[m.PatternID] = true
		out = append(out, bm.matcher.Pattern(m.PatternID))
	}
	sort.Strings(out)
	return out
}

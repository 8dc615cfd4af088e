// Package bpf captures filesystem operations with an eBPF object loaded at
// runtime. The object must define a BPF_MAP_TYPE_RINGBUF map named "events"
// and programs whose section names say where they attach:
//
//	kprobe/<function>, kretprobe/<function>, tracepoint/<group>/<name>
//
// Every ring buffer sample is one little-endian record:
//
//	u32 op; u32 pid; u32 tgid; u32 flags; u64 ts_ns; char comm[16]; char filename[256];
//
// op is 0..5 for open, read, write, rename, unlink and close. Bit 0 of flags
// marks the close of a descriptor opened with O_CREAT.
//
// No object is embedded in this module. It is built separately from a libbpf
// C program (clang -target bpf -O2 -g) that emits the layout above, shipped
// with the deployment, and located through source.object_path.
package bpf

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/ringbuf"
	"github.com/cilium/ebpf/rlimit"
	"github.com/lucid-vigil/ransomguard/pkg/events"
	"github.com/lucid-vigil/ransomguard/pkg/sources"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"
)

const (
	commLen     = 16
	filenameLen = 256
	// RecordSize is the size of one ring buffer sample.
	RecordSize = 4*4 + 8 + commLen + filenameLen

	flagCreated = 1 << 0

	eventsMap = "events"

	// maxReadFailures is how many consecutive ring buffer read errors end
	// the source.
	maxReadFailures = 100
)

// Source implements sources.Source over a ring buffer.
type Source struct {
	objectPath string
	logger     zerolog.Logger
	bootTime   time.Time
	warnLimit  *rate.Limiter
}

type recordReader interface {
	Read() (ringbuf.Record, error)
}

var _ sources.Source = (*Source)(nil)

// New creates a source for the compiled BPF object at objectPath.
func New(objectPath string, logger zerolog.Logger) *Source {
	return &Source{
		objectPath: objectPath,
		logger:     logger.With().Str("source", "ebpf").Logger(),
		bootTime:   bootTime(),
		warnLimit:  rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

func (s *Source) Name() string {
	return "ebpf"
}

// Run loads and attaches the object, then forwards ring buffer records until
// ctx is cancelled. Links and maps are released on return.
func (s *Source) Run(ctx context.Context, pub sources.Publisher) error {
	if err := rlimit.RemoveMemlock(); err != nil {
		return fmt.Errorf("failed to remove memlock limit: %w", err)
	}

	spec, err := ebpf.LoadCollectionSpec(s.objectPath)
	if err != nil {
		return fmt.Errorf("failed to load BPF collection spec: %w", err)
	}
	if m, ok := spec.Maps[eventsMap]; !ok || m.Type != ebpf.RingBuf {
		return fmt.Errorf("BPF object %s has no ring buffer map %q", s.objectPath, eventsMap)
	}

	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		return fmt.Errorf("failed to create BPF collection: %w", err)
	}
	defer coll.Close()

	links, err := s.attach(spec, coll)
	defer func() {
		for _, l := range links {
			l.Close()
		}
	}()
	if err != nil {
		return err
	}

	rd, err := ringbuf.NewReader(coll.Maps[eventsMap])
	if err != nil {
		return fmt.Errorf("failed to open ring buffer: %w", err)
	}

	go func() {
		<-ctx.Done()
		rd.Close()
	}()

	s.logger.Info().Str("object", s.objectPath).Int("programs", len(links)).Msg("BPF programs attached, reading events")
	return s.read(rd, pub)
}

func (s *Source) read(rd recordReader, pub sources.Publisher) error {
	var failures, suppressed int
	for {
		rec, err := rd.Read()
		if err != nil {
			if errors.Is(err, ringbuf.ErrClosed) {
				return nil
			}
			failures++
			if failures >= maxReadFailures {
				return fmt.Errorf("ring buffer read failed %d times in a row: %w", failures, err)
			}
			if s.warnLimit.Allow() {
				s.logger.Warn().Err(err).Int("suppressed", suppressed).Msg("Failed to read ring buffer")
				suppressed = 0
			} else {
				suppressed++
			}
			continue
		}
		failures = 0

		ev, err := DecodeRecord(rec.RawSample, s.bootTime)
		if err != nil {
			s.logger.Debug().Err(err).Msg("Skipping malformed record")
			continue
		}
		if err := pub.Publish(ev); errors.Is(err, events.ErrBusClosed) {
			return nil
		}
	}
}

// attach links every program by its section name. Programs with another
// section are left loaded but unattached.
func (s *Source) attach(spec *ebpf.CollectionSpec, coll *ebpf.Collection) ([]link.Link, error) {
	var links []link.Link
	for name, prog := range coll.Programs {
		section := spec.Programs[name].SectionName
		kind, target, _ := strings.Cut(section, "/")

		var (
			l   link.Link
			err error
		)
		switch kind {
		case "kprobe":
			l, err = link.Kprobe(target, prog, nil)
		case "kretprobe":
			l, err = link.Kretprobe(target, prog, nil)
		case "tracepoint", "tp":
			group, tp, ok := strings.Cut(target, "/")
			if !ok {
				return links, fmt.Errorf("program %s: malformed tracepoint section %q", name, section)
			}
			l, err = link.Tracepoint(group, tp, prog, nil)
		default:
			s.logger.Warn().Str("program", name).Str("section", section).Msg("Unknown section, skipping attachment")
			continue
		}
		if err != nil {
			return links, fmt.Errorf("failed to attach program %s (%s): %w", name, section, err)
		}
		links = append(links, l)
		s.logger.Debug().Str("program", name).Str("section", section).Msg("Program attached")
	}

	if len(links) == 0 {
		return nil, fmt.Errorf("BPF object %s has no attachable programs", s.objectPath)
	}
	return links, nil
}

// DecodeRecord parses one ring buffer sample. ts_ns is CLOCK_MONOTONIC and
// is converted using boot, the wall clock time at which it was zero.
func DecodeRecord(raw []byte, boot time.Time) (events.Event, error) {
	if len(raw) < RecordSize {
		return events.Event{}, fmt.Errorf("short record: %d bytes, want %d", len(raw), RecordSize)
	}

	le := binary.LittleEndian
	op := events.Op(le.Uint32(raw[0:4]))
	if !op.Valid() {
		return events.Event{}, fmt.Errorf("unknown op code %d", uint32(op))
	}
	flags := le.Uint32(raw[12:16])

	return events.Event{
		Op:        op,
		Pid:       le.Uint32(raw[4:8]),
		Tgid:      le.Uint32(raw[8:12]),
		Timestamp: boot.Add(time.Duration(le.Uint64(raw[16:24]))),
		Comm:      cString(raw[24 : 24+commLen]),
		Filename:  cString(raw[24+commLen : RecordSize]),
		Created:   flags&flagCreated != 0,
	}, nil
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// bootTime returns the wall clock time of CLOCK_MONOTONIC zero.
func bootTime() time.Time {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return time.Now()
	}
	return time.Now().Add(-time.Duration(ts.Nano()))
}

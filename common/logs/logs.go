package logs

import (
	"context"
	"strings"
	"time"

	"ceph-e2e/common/failure"
	"ceph-e2e/common/metrics"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
)

// Query selects the log lines of one daemon over a time window.
type Query struct {
	DaemonType string
	DaemonID   string
	Start      time.Time
	End        time.Time
}

// Daemon is the ceph name of the queried daemon, e.g. mgr.host1.abcdef
func (q Query) Daemon() string {
	return q.DaemonType + "." + q.DaemonID
}

func (q Query) validate() error {
	if q.DaemonType == "" || q.DaemonID == "" {
		return failure.ConfigErrorf("log query needs a daemon type and id, got %q", q.Daemon())
	}
	if q.End.Before(q.Start) {
		return failure.ConfigErrorf("log window for %s ends before it starts", q.Daemon())
	}
	return nil
}

// Source retrieves daemon log lines.
type Source interface {
	Lines(ctx context.Context, q Query) ([]string, error)
}

// Hit is a log line containing a forbidden signature.
type Hit struct {
	Signature string
	Line      string
}

// ScanForSignatures returns every line containing one of signatures.
func ScanForSignatures(lines, signatures []string) []Hit {
	var hits []Hit
	for _, line := range lines {
		for _, sig := range signatures {
			if sig != "" && strings.Contains(line, sig) {
				hits = append(hits, Hit{Signature: sig, Line: line})
			}
		}
	}
	return hits
}

// CheckAbsent fetches the lines for q and returns an AssertionError if any
// of signatures appears in them.
func CheckAbsent(ctx context.Context, log logr.Logger, rec *metrics.Recorder, src Source, q Query, signatures []string) error {
	if err := q.validate(); err != nil {
		return err
	}
	lines, err := src.Lines(ctx, q)
	if err != nil {
		return errors.Wrapf(err, "fetching logs of %s", q.Daemon())
	}
	log.Info("Checking log lines", "daemon", q.Daemon(), "lines", len(lines),
		"start", q.Start.UTC().Format(time.RFC3339), "end", q.End.UTC().Format(time.RFC3339))

	hits := ScanForSignatures(lines, signatures)
	rec.LogSignatureHits(q.DaemonType, len(hits))
	if len(hits) == 0 {
		return nil
	}
	found := make([]string, 0, len(hits))
	for _, h := range hits {
		log.Info("Found forbidden signature", "daemon", q.Daemon(), "signature", h.Signature, "line", h.Line)
		found = append(found, h.Signature)
	}
	return &failure.AssertionError{
		What:   "log signatures absent from " + q.Daemon(),
		Detail: "found " + strings.Join(found, ", "),
	}
}

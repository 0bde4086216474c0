package ledger

import (
	"fmt"
	"os"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// SummaryCredential is the periodic export emitted for external third-party
// timestamping (spec.md §4.4). It is the artefact that lets receipts in
// [WindowLo, WindowHi] be pruned, since an entry is never dropped before its
// covering summary is durably emitted.
type SummaryCredential struct {
	Subject   string
	WindowLo  uint64
	WindowHi  uint64
	Count     uint64
	MerkleRoot [32]byte
	EmittedAt time.Time
}

// summaryRow is the on-disk parquet schema for a SummaryCredential.
type summaryRow struct {
	Subject    string `parquet:"name=subject, type=BYTE_ARRAY, convertedtype=UTF8"`
	WindowLo   int64  `parquet:"name=window_lo, type=INT64"`
	WindowHi   int64  `parquet:"name=window_hi, type=INT64"`
	Count      int64  `parquet:"name=count, type=INT64"`
	MerkleRoot string `parquet:"name=merkle_root, type=BYTE_ARRAY, convertedtype=UTF8"`
	EmittedAt  string `parquet:"name=emitted_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// DefaultSummaryCadence is the default periodic emission interval (spec.md
// §4.4: "configurable cadence, default hourly").
const DefaultSummaryCadence = time.Hour

// Summarize builds the SummaryCredential covering [lo, hi] for subject.
func (s *Store) Summarize(subject string, lo, hi uint64, now time.Time) (SummaryCredential, error) {
	root, err := s.MerkleRoot(lo, hi)
	if err != nil {
		return SummaryCredential{}, fmt.Errorf("ledger: summarize: %w", err)
	}
	return SummaryCredential{
		Subject:    subject,
		WindowLo:   lo,
		WindowHi:   hi,
		Count:      hi - lo + 1,
		MerkleRoot: root,
		EmittedAt:  now.UTC(),
	}, nil
}

// ExportSummaries writes SummaryCredential rows to a new parquet file at
// path, replacing any existing file there; this is the format handed to
// external storage for third-party timestamping.
func ExportSummaries(path string, summaries []SummaryCredential) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("ledger: create summary export: %w", err)
	}
	defer file.Close()

	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(summaryRow), 1)
	if err != nil {
		return fmt.Errorf("ledger: summary parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, sc := range summaries {
		row := &summaryRow{
			Subject:    sc.Subject,
			WindowLo:   int64(sc.WindowLo),
			WindowHi:   int64(sc.WindowHi),
			Count:      int64(sc.Count),
			MerkleRoot: hexEncode(sc.MerkleRoot[:]),
			EmittedAt:  sc.EmittedAt.Format(time.RFC3339),
		}
		if err := pw.Write(row); err != nil {
			return fmt.Errorf("ledger: write summary row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("ledger: finalize summary export: %w", err)
	}
	return nil
}

func hexEncode(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hextable[c>>4]
		out[i*2+1] = hextable[c&0x0f]
	}
	return string(out)
}

package service

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/agrawalpuran/uds-refresh-sub000/pkg/metrics"
	"github.com/agrawalpuran/uds-refresh-sub000/services/id-reconciler/domain/entity"
	"github.com/agrawalpuran/uds-refresh-sub000/services/id-reconciler/domain/repository"
)

var hexIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{24}$`)

// ScannerConfig bounds the work and output of a scan
type ScannerConfig struct {
	SampleLimit      int `yaml:"sample_limit" json:"sample_limit" mapstructure:"sample_limit"`
	MaxArrayElements int `yaml:"max_array_elements" json:"max_array_elements" mapstructure:"max_array_elements"`
}

// DefaultScannerConfig returns the default scan bounds
func DefaultScannerConfig() ScannerConfig {
	return ScannerConfig{
		SampleLimit:      5,
		MaxArrayElements: 1000,
	}
}

// Scanner classifies reference values. It never writes.
type Scanner struct {
	reader  repository.DocumentReader
	codec   repository.IDCodec
	config  ScannerConfig
	logger  *zap.Logger
	metrics *metrics.Manager
}

// NewScanner creates a new reference scanner. metrics may be nil.
func NewScanner(reader repository.DocumentReader, codec repository.IDCodec, config ScannerConfig, logger *zap.Logger, m *metrics.Manager) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.SampleLimit < 0 {
		config.SampleLimit = 0
	}
	if config.MaxArrayElements <= 0 {
		config.MaxArrayElements = DefaultScannerConfig().MaxArrayElements
	}
	return &Scanner{
		reader:  reader,
		codec:   codec,
		config:  config,
		logger:  logger,
		metrics: m,
	}
}

// Classify assigns one value to exactly one classification. Shapes are
// checked before catalog membership so a 24-hex value is never valid.
func (s *Scanner) Classify(v interface{}, valid func(string) bool) (entity.Classification, string) {
	if v == nil {
		return entity.ClassNull, entity.ReasonMissing
	}

	if s.codec.IsInternalID(v) {
		return entity.ClassLegacyInternalID, entity.ReasonInternalID
	}

	str, ok := v.(string)
	if !ok {
		return entity.ClassBroken, entity.ReasonUnexpectedType
	}

	if hexIDPattern.MatchString(str) {
		return entity.ClassLegacyHexString, entity.ReasonHexString
	}

	if valid(str) {
		return entity.ClassValid, ""
	}

	if str == "" {
		return entity.ClassBroken, entity.ReasonEmptyString
	}

	return entity.ClassBroken, entity.ReasonNotFound
}

// located is one concrete value found under a declared reference path
type located struct {
	path  string
	value interface{}
	// A scalar sits where the path expects a sub-document
	misshapen bool
}

// ScanCollection classifies every declared reference of one collection in
// a single pass over its documents
func (s *Scanner) ScanCollection(ctx context.Context, def entity.CollectionDef, catalog *Catalog) (*entity.CollectionScan, error) {
	result := &entity.CollectionScan{Collection: def.Name}

	reports := make([]*entity.FieldReport, len(def.References))
	for i, ref := range def.References {
		reports[i] = &entity.FieldReport{
			Collection: def.Name,
			Field:      ref.Path,
			Target:     ref.Target,
			Optional:   ref.Optional,
			Samples:    make(map[entity.Classification][]entity.Sample),
		}
	}
	result.Fields = reports

	err := s.reader.Scan(ctx, def.Name, nil, func(doc repository.Document) error {
		result.Documents++
		docKey := s.documentKey(doc.ID())

		for i, ref := range def.References {
			report := reports[i]
			target := catalog.Entity(ref.Target)

			values, skipped := s.locate(doc, ref.Path)
			report.Skipped += int64(skipped)

			for _, loc := range values {
				class, reason := s.Classify(loc.value, target.Contains)
				if loc.misshapen {
					class, reason = entity.ClassBroken, entity.ReasonUnexpectedType
				}
				required := !ref.Optional
				report.Counts.Add(class, required)

				if class != entity.ClassValid && (class != entity.ClassNull || required) {
					s.addSample(report, class, entity.Sample{
						DocumentID: docKey,
						Path:       loc.path,
						Raw:        rawString(s.codec, loc.value),
						Reason:     reason,
					})
				}

				r := entity.Reference{
					DocumentID:  doc.ID(),
					DocumentKey: docKey,
					Field:       ref,
					Path:        loc.path,
					Raw:         loc.value,
					Class:       class,
				}

				switch {
				case class.IsLegacy():
					result.Flagged = append(result.Flagged, r)
				case class == entity.ClassBroken, class == entity.ClassNull && required:
					result.Broken = append(result.Broken, r)
				}
			}
		}
		return nil
	})
	if err != nil {
		return result, fmt.Errorf("failed to scan %s: %w", def.Name, err)
	}

	for _, report := range reports {
		s.recordMetrics(report)
		if report.Skipped > 0 {
			s.logger.Warn("Array elements beyond scan bound were not classified",
				zap.String("collection", def.Name),
				zap.String("field", report.Field),
				zap.Int64("skipped", report.Skipped),
				zap.Int("bound", s.config.MaxArrayElements))
		}
	}

	s.logger.Debug("Collection scanned",
		zap.String("collection", def.Name),
		zap.Int64("documents", result.Documents),
		zap.Int("flagged", len(result.Flagged)),
		zap.Int("broken", len(result.Broken)))

	return result, nil
}

// locate returns the values under a dotted path. Arrays met along the way
// are expanded element-wise, up to the configured bound per array, with
// the element index spliced into the path.
func (s *Scanner) locate(doc repository.Document, path string) ([]located, int) {
	var out []located
	skipped := 0

	var walk func(node interface{}, segs []string, prefix string)
	walk = func(node interface{}, segs []string, prefix string) {
		if arr, ok := node.([]interface{}); ok {
			n := len(arr)
			if n > s.config.MaxArrayElements {
				skipped += n - s.config.MaxArrayElements
				n = s.config.MaxArrayElements
			}
			for i := 0; i < n; i++ {
				walk(arr[i], segs, joinPath(prefix, strconv.Itoa(i)))
			}
			return
		}

		if len(segs) == 0 {
			out = append(out, located{path: prefix, value: node})
			return
		}

		if node == nil {
			out = append(out, located{path: joinPath(prefix, strings.Join(segs, ".")), value: nil})
			return
		}
		m, ok := asMap(node)
		if !ok {
			// Reported at the scalar's own path; a write below it would be rejected
			out = append(out, located{path: prefix, value: node, misshapen: true})
			return
		}

		next, present := m[segs[0]]
		if !present || next == nil {
			out = append(out, located{path: joinPath(prefix, strings.Join(segs, ".")), value: nil})
			return
		}
		walk(next, segs[1:], joinPath(prefix, segs[0]))
	}

	walk(map[string]interface{}(doc), strings.Split(path, "."), "")
	return out, skipped
}

func (s *Scanner) addSample(report *entity.FieldReport, class entity.Classification, sample entity.Sample) {
	if len(report.Samples[class]) >= s.config.SampleLimit {
		return
	}
	report.Samples[class] = append(report.Samples[class], sample)
}

func (s *Scanner) recordMetrics(report *entity.FieldReport) {
	for _, class := range []entity.Classification{
		entity.ClassValid,
		entity.ClassLegacyInternalID,
		entity.ClassLegacyHexString,
		entity.ClassNull,
		entity.ClassBroken,
	} {
		s.metrics.RecordReferences(report.Collection, report.Field, string(class), report.Counts.Get(class))
	}
}

func (s *Scanner) documentKey(id interface{}) string {
	return rawString(s.codec, id)
}

// rawString renders a stored value for reports
func rawString(codec repository.IDCodec, v interface{}) string {
	if v == nil {
		return ""
	}
	if hex, ok := codec.Hex(v); ok {
		return hex
	}
	if str, ok := v.(string); ok {
		return str
	}
	return fmt.Sprintf("%v", v)
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case repository.Document:
		return m, true
	}
	return nil, false
}

func joinPath(prefix, seg string) string {
	if prefix == "" {
		return seg
	}
	return prefix + "." + seg
}

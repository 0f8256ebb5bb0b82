package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/annel0/worldstore/internal/chunk"
)

// ConsistencyStatus результат сверки двух форматов одного чанка
type ConsistencyStatus int

const (
	Consistent ConsistencyStatus = iota
	ConsistencyDivergent
	MissingFormat
)

func (s ConsistencyStatus) String() string {
	switch s {
	case Consistent:
		return "consistent"
	case ConsistencyDivergent:
		return "divergent"
	case MissingFormat:
		return "missing_format"
	default:
		return "unknown"
	}
}

// ConsistencyReport отчёт о сверке
type ConsistencyReport struct {
	Key     chunk.Key
	Status  ConsistencyStatus
	Missing chunk.Format // Для MissingFormat: какой формат отсутствует
	Details []string
}

// OK сообщает, что записи согласованы
func (r ConsistencyReport) OK() bool {
	return r.Status == Consistent
}

// ValidateConsistency сверяет legacy- и enhanced-записи чанка по содержимому.
// Нечитаемая запись считается расхождением, отсутствие обеих - ErrNotFound.
func (l *Layer) ValidateConsistency(ctx context.Context, key chunk.Key) (ConsistencyReport, error) {
	ctx, span := l.tracer.Start(ctx, "storage.ValidateConsistency")
	defer span.End()

	mu := l.locks.forKey(key)
	mu.RLock()
	defer mu.RUnlock()

	report := ConsistencyReport{Key: key}

	legacy, legacyErr := l.loadFormat(ctx, key, chunk.FormatLegacy)
	enhanced, enhancedErr := l.loadFormat(ctx, key, chunk.FormatEnhanced)
	for _, err := range []error{legacyErr, enhancedErr} {
		if err != nil && !recoverable(err) {
			return report, err
		}
	}

	legacyMissing := errors.Is(legacyErr, ErrNotFound)
	enhancedMissing := errors.Is(enhancedErr, ErrNotFound)
	switch {
	case legacyMissing && enhancedMissing:
		return report, ErrNotFound
	case legacyMissing:
		report.Status = MissingFormat
		report.Missing = chunk.FormatLegacy
		return report, nil
	case enhancedMissing:
		report.Status = MissingFormat
		report.Missing = chunk.FormatEnhanced
		return report, nil
	}

	if legacyErr != nil {
		report.Details = append(report.Details, fmt.Sprintf("legacy record unreadable: %v", legacyErr))
	}
	if enhancedErr != nil {
		report.Details = append(report.Details, fmt.Sprintf("enhanced record unreadable: %v", enhancedErr))
	}
	if legacyErr == nil && enhancedErr == nil {
		report.Details = legacy.Diff(enhanced)
	}

	if len(report.Details) > 0 {
		report.Status = ConsistencyDivergent
		l.logger.Warn("chunk %s: formats diverge: %v", key, report.Details)
	}
	return report, nil
}

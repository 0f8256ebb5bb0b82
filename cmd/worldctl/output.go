package main

import (
	"fmt"
	"io"
	"time"

	"github.com/annel0/worldstore/internal/migration"
)

func printReport(w io.Writer, r *migration.Report) {
	fmt.Fprintf(w, "Прогон %s: %s\n", r.RunID, r.Outcome)
	fmt.Fprintf(w, "  чанков: %d найдено, %d сконвертировано, %d с ошибкой, пакетов %d\n",
		r.ChunksScanned, r.ChunksConverted, r.ChunksFailed, r.Batches)
	switch {
	case !r.BackupEnabled:
		fmt.Fprintln(w, "  резервные копии: отключены")
	case r.BackupDiscarded:
		fmt.Fprintf(w, "  резервные копии: %d, удалены после успеха\n", r.BackupEntries)
	default:
		fmt.Fprintf(w, "  резервные копии: %d\n", r.BackupEntries)
	}
	if !r.FinishedAt.IsZero() {
		fmt.Fprintf(w, "  длительность: %v\n", r.Duration().Round(time.Millisecond))
	}
	if v := r.Validation; v != nil {
		fmt.Fprintf(w, "  проверка: %d из %d согласованы\n", v.Consistent, v.Sampled)
	}
	for _, f := range r.FailedKeys {
		fmt.Fprintf(w, "  ✗ %s: %s\n", f.Key, f.Reason)
	}
	if r.FailureReason != "" {
		fmt.Fprintf(w, "  причина: %s\n", r.FailureReason)
	}
}

func printValidation(w io.Writer, v *migration.WorldValidation) {
	fmt.Fprintf(w, "Проверено %d чанков: %d согласованы, %d расходятся, %d без второго формата, %d нечитаемы, %d с одним форматом\n",
		v.Sampled, v.Consistent, v.Divergent, v.Missing, v.Errors, v.SingleFormat)
	for _, issue := range v.Issues {
		fmt.Fprintf(w, "  ✗ %s\n", issue)
	}
}

func printRepair(w io.Writer, r *migration.RepairReport) {
	verb := "исправлено"
	if r.DryRun {
		verb = "будет исправлено"
	}
	fmt.Fprintf(w, "Просмотрено %d чанков, %s %d\n", r.Scanned, verb, len(r.Actions))
	for _, a := range r.Actions {
		fmt.Fprintf(w, "  ↻ %s\n", a)
	}
	for _, issue := range r.Unrepairable {
		fmt.Fprintf(w, "  ✗ %s: %s\n", issue.Key, issue.Reason)
	}
}

func printRollback(w io.Writer, rr *migration.RollbackReport) {
	fmt.Fprintf(w, "Откат %s: %d из %d чанков восстановлено (%s)\n", rr.RunID, rr.Restored, rr.Entries, rr.Outcome)
	for _, e := range rr.Errors {
		fmt.Fprintf(w, "  ✗ %s\n", e)
	}
}

func printRecommendations(w io.Writer, rec *migration.Recommendations) {
	if !rec.NeedsMigration {
		fmt.Fprintf(w, "Миграция не требуется (формат мира: %s, чанков: %d)\n", rec.WorldFormat, rec.TotalChunks)
		return
	}
	fmt.Fprintf(w, "Ждут миграции %d из %d чанков (формат мира: %s)\n", rec.PendingChunks, rec.TotalChunks, rec.WorldFormat)
	fmt.Fprintf(w, "  рекомендуемый batch_size: %d, резервная копия: %v\n", rec.RecommendedBatchSize, rec.RecommendBackup)
	fmt.Fprintf(w, "  оценка: ~%d байт на диске, ~%v\n", rec.EstimatedDiskBytes, rec.EstimatedDuration)
}

package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kyo10310415/vtuber-school-evaluation-sub000/internal/batch"
	"github.com/kyo10310415/vtuber-school-evaluation-sub000/internal/config"
	"github.com/kyo10310415/vtuber-school-evaluation-sub000/internal/evaluation"
	"github.com/kyo10310415/vtuber-school-evaluation-sub000/internal/notes"
	"github.com/kyo10310415/vtuber-school-evaluation-sub000/internal/quota"
	"github.com/kyo10310415/vtuber-school-evaluation-sub000/internal/storage"
)

// --- evaluate ---

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Run monthly evaluations",
	Long: `Run monthly evaluations.

Examples:
  vschool evaluate rubric --month 2025-07
  vschool evaluate youtube --month 2025-07 --batch-index 0 --batch-size 50
  vschool evaluate auto x --month 2025-07
  vschool evaluate history --month 2025-07`,
}

var evaluateRubricCmd = &cobra.Command{
	Use:   "rubric",
	Short: "Grade the roster against the six-criteria rubric",
	RunE: func(cmd *cobra.Command, args []string) error {
		month, _ := cmd.Flags().GetString("month")
		studentsStr, _ := cmd.Flags().GetString("students")

		req := map[string]any{"month": month}
		if studentsStr != "" {
			ids := strings.Split(studentsStr, ",")
			for i := range ids {
				ids[i] = strings.TrimSpace(ids[i])
			}
			req["studentIds"] = ids
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Evaluating %s...", month)
		resp, err := client.post(cmd.Context(), "/evaluate", req)
		if err != nil {
			return err
		}

		var report evaluation.Report
		if err := decodeJSON(resp, &report); err != nil {
			return err
		}

		for _, r := range report.Results {
			fmt.Printf("%s  %s  %s\n",
				colorize(colorCyan, r.StudentID),
				r.StudentName,
				gradeLine(r),
			)
		}
		for _, e := range report.Errors {
			printError("%s", e)
		}
		printSuccess("%d evaluated, %d failed", report.SuccessCount, report.ErrorCount)
		return nil
	},
}

func gradeLine(r evaluation.Result) string {
	s := r.Scores
	return fmt.Sprintf("overall %s (absence %s, lateness %s, mission %s, payment %s, listening %s, comprehension %s)",
		colorGrade(string(r.OverallGrade)), s.Absence, s.Lateness, s.Mission, s.Payment, s.ActiveListening, s.Comprehension)
}

var evaluateYouTubeCmd = &cobra.Command{
	Use:   "youtube",
	Short: "Collect and grade YouTube metrics for one batch window",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSourceBatch(cmd, "youtube")
	},
}

var evaluateXCmd = &cobra.Command{
	Use:   "x",
	Short: "Collect and grade X metrics for one batch window",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSourceBatch(cmd, "x")
	},
}

func runSourceBatch(cmd *cobra.Command, source string) error {
	month, _ := cmd.Flags().GetString("month")
	batchIndex, _ := cmd.Flags().GetInt("batch-index")
	batchSize, _ := cmd.Flags().GetInt("batch-size")
	studentsStr, _ := cmd.Flags().GetString("students")

	req := map[string]any{
		"month":      month,
		"batchIndex": batchIndex,
		"batchSize":  batchSize,
	}
	if studentsStr != "" {
		ids := strings.Split(studentsStr, ",")
		for i := range ids {
			ids[i] = strings.TrimSpace(ids[i])
		}
		req["studentIds"] = ids
	}

	client, err := newAPIClient()
	if err != nil {
		return err
	}

	printStep("Running %s batch %d for %s...", source, batchIndex, month)
	resp, err := client.post(cmd.Context(), "/evaluate/"+source, req)
	if err != nil {
		return err
	}

	var summary batch.Summary
	if err := decodeJSON(resp, &summary); err != nil {
		return err
	}

	printSummary(&summary)
	if summary.HasNextBatch {
		printStep("Next window: --batch-index %d", summary.NextBatchIndex)
	}
	return nil
}

var evaluateAutoCmd = &cobra.Command{
	Use:   "auto <source>",
	Short: "Run every batch window with cooldowns between them",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		source := args[0]
		month, _ := cmd.Flags().GetString("month")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		// Auto runs sleep between windows and can outlive any fixed timeout.
		client.httpClient.Timeout = 0

		printStep("Running all %s windows for %s (this can take a while)...", source, month)
		resp, err := client.post(cmd.Context(), "/evaluate/"+source+"/auto", map[string]any{
			"month": month,
		})
		if err != nil {
			return err
		}

		var summary batch.Summary
		if err := decodeJSON(resp, &summary); err != nil {
			return err
		}

		printSummary(&summary)
		return nil
	},
}

func printSummary(s *batch.Summary) {
	printStatus("Students", "%d total, %d processed", s.TotalStudents, s.ProcessedCount)
	printStatus("Outcomes", "%d graded, %d partial, %d skipped, %d failed",
		s.SuccessCount, s.PartialCount, s.SkippedCount, s.ErrorCount)
	printStatus("Quota", "%d units used", s.UnitsUsed)
	for _, e := range s.Errors {
		printError("%s", e)
	}
	if s.ErrorCount == 0 {
		printSuccess("Batch complete")
	} else {
		printWarning("Batch complete with %d errors", s.ErrorCount)
	}
}

var evaluateHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show stored evaluations for a month",
	RunE: func(cmd *cobra.Command, args []string) error {
		month, _ := cmd.Flags().GetString("month")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/evaluate/history?month="+month)
		if err != nil {
			return err
		}

		var result struct {
			Count       int                     `json:"count"`
			Evaluations []storage.EvaluationRow `json:"evaluations"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if result.Count == 0 {
			fmt.Println("No evaluations found.")
			return nil
		}
		for _, row := range result.Evaluations {
			fmt.Printf("%s  %s  overall %s  %s\n",
				colorize(colorCyan, row.StudentID),
				row.StudentName,
				colorGrade(row.Overall),
				row.EvaluatedAt.Format("2006-01-02 15:04"),
			)
		}
		return nil
	},
}

func init() {
	evaluateRubricCmd.Flags().String("month", "", "target month (YYYY-MM)")
	evaluateRubricCmd.Flags().String("students", "", "comma-separated student IDs (default: all active)")
	evaluateRubricCmd.MarkFlagRequired("month")

	for _, c := range []*cobra.Command{evaluateYouTubeCmd, evaluateXCmd} {
		c.Flags().String("month", "", "target month (YYYY-MM)")
		c.Flags().Int("batch-index", 0, "zero-based batch window index")
		c.Flags().Int("batch-size", batch.DefaultBatchSize, "students per window (0 = whole roster)")
		c.Flags().String("students", "", "comma-separated student IDs (bypasses windowing)")
		c.MarkFlagRequired("month")
	}

	evaluateAutoCmd.Flags().String("month", "", "target month (YYYY-MM)")
	evaluateAutoCmd.MarkFlagRequired("month")

	evaluateHistoryCmd.Flags().String("month", "", "target month (YYYY-MM)")
	evaluateHistoryCmd.MarkFlagRequired("month")

	evaluateCmd.AddCommand(evaluateRubricCmd)
	evaluateCmd.AddCommand(evaluateYouTubeCmd)
	evaluateCmd.AddCommand(evaluateXCmd)
	evaluateCmd.AddCommand(evaluateAutoCmd)
	evaluateCmd.AddCommand(evaluateHistoryCmd)
}

// --- quota ---

type quotaResponse struct {
	Status   quota.Status   `json:"status"`
	Capacity quota.Capacity `json:"capacity"`
}

var quotaCmd = &cobra.Command{
	Use:   "quota <provider>",
	Short: "Show remaining API budget for a provider (youtube or x)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		provider := args[0]

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/quota/"+provider)
		if err != nil {
			return err
		}

		var q quotaResponse
		if err := decodeJSON(resp, &q); err != nil {
			return err
		}

		printStatus("Provider", "%s", q.Status.Provider)
		printStatus("Period", "%s", q.Status.Period)
		printStatus("Budget", "%d units (hard limit %d, safety margin %d)",
			q.Status.UsableLimit, q.Status.HardLimit, q.Status.SafetyMargin)
		printStatus("Used", "%d units", q.Status.UsedUnits)
		printStatus("Remaining", "%d units (%d more students)",
			q.Status.Remaining, q.Capacity.MaxStudents)
		return nil
	},
}

// --- students ---

var studentsCmd = &cobra.Command{
	Use:   "students",
	Short: "Show the roster",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/students?status="+status)
		if err != nil {
			return err
		}

		var result struct {
			Count    int               `json:"count"`
			Students []storage.Student `json:"students"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if result.Count == 0 {
			fmt.Println("No students found.")
			return nil
		}
		for _, st := range result.Students {
			accounts := make([]string, 0, 2)
			if st.ChannelID != "" {
				accounts = append(accounts, "yt:"+st.ChannelID)
			}
			if st.XUsername != "" {
				accounts = append(accounts, "x:@"+st.XUsername)
			}
			fmt.Printf("%s  %s  %s\n",
				colorize(colorCyan, st.ID), st.Name, strings.Join(accounts, " "))
		}
		return nil
	},
}

func init() {
	studentsCmd.Flags().String("status", "active", "roster status filter (active, suspended, withdrawn)")
}

// --- notes ---

var notesCmd = &cobra.Command{
	Use:   "notes",
	Short: "Manage session notes",
}

var notesImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a talk-memo document (text or PDF) for a student month",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		studentID, _ := cmd.Flags().GetString("student")
		month, _ := cmd.Flags().GetString("month")

		store, err := openLocalStore()
		if err != nil {
			return err
		}
		defer store.Close()

		note, err := notes.NewImporter(store).ImportFile(studentID, month, args[0])
		if err != nil {
			return err
		}

		printSuccess("Imported %q for %s (%s, %d bytes)",
			note.Title, studentID, month, len(note.Content))
		return nil
	},
}

func init() {
	notesImportCmd.Flags().String("student", "", "student ID")
	notesImportCmd.Flags().String("month", "", "session month (YYYY-MM)")
	notesImportCmd.MarkFlagRequired("student")
	notesImportCmd.MarkFlagRequired("month")

	notesCmd.AddCommand(notesImportCmd)
}

// --- roster ---

var rosterCmd = &cobra.Command{
	Use:   "roster",
	Short: "Manage the student roster",
	Long: `Manage the student roster.

CSV exports from the master sheet load directly:
  vschool roster import students.csv
  vschool roster absences absences-2025-07.csv
  vschool roster payments payments-2025-07.csv`,
}

// readCSV parses a headered CSV into one map per row, keyed by the
// lowercased header names. Missing required columns are an error.
func readCSV(r io.Reader, required ...string) ([]map[string]string, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("csv is empty")
	}

	idx := make(map[string]int, len(records[0]))
	for i, h := range records[0] {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range required {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("csv is missing column %q", col)
		}
	}

	rows := make([]map[string]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(map[string]string, len(idx))
		for name, i := range idx {
			if i < len(rec) {
				row[name] = strings.TrimSpace(rec[i])
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseStudentsCSV(r io.Reader) ([]storage.Student, error) {
	rows, err := readCSV(r, "id", "name")
	if err != nil {
		return nil, err
	}
	students := make([]storage.Student, 0, len(rows))
	for i, row := range rows {
		if row["id"] == "" || row["name"] == "" {
			return nil, fmt.Errorf("row %d: id and name are required", i+1)
		}
		status := row["status"]
		if status == "" {
			status = "active"
		}
		students = append(students, storage.Student{
			ID:         row["id"],
			Name:       row["name"],
			Status:     status,
			ChannelID:  row["channel_id"],
			XUsername:  strings.TrimPrefix(row["x_username"], "@"),
			EnrolledAt: row["enrolled_at"],
		})
	}
	return students, nil
}

func parseAbsencesCSV(r io.Reader) ([]storage.AbsenceRecord, error) {
	rows, err := readCSV(r, "student_id", "month", "absence_count")
	if err != nil {
		return nil, err
	}
	records := make([]storage.AbsenceRecord, 0, len(rows))
	for i, row := range rows {
		count, err := strconv.Atoi(row["absence_count"])
		if err != nil {
			return nil, fmt.Errorf("row %d: absence_count %q is not a number", i+1, row["absence_count"])
		}
		records = append(records, storage.AbsenceRecord{
			StudentID:    row["student_id"],
			Month:        row["month"],
			AbsenceCount: count,
		})
	}
	return records, nil
}

func parsePaymentsCSV(r io.Reader) ([]storage.PaymentRecord, error) {
	rows, err := readCSV(r, "student_id", "month", "status")
	if err != nil {
		return nil, err
	}
	records := make([]storage.PaymentRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, storage.PaymentRecord{
			StudentID: row["student_id"],
			Month:     row["month"],
			Status:    row["status"],
		})
	}
	return records, nil
}

func openLocalStore() (*storage.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	return store, nil
}

var rosterImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Load students from a CSV export (id, name, status, channel_id, x_username, enrolled_at)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening roster file: %w", err)
		}
		defer f.Close()

		students, err := parseStudentsCSV(f)
		if err != nil {
			return err
		}

		store, err := openLocalStore()
		if err != nil {
			return err
		}
		defer store.Close()

		for _, st := range students {
			if err := store.UpsertStudent(st); err != nil {
				return fmt.Errorf("upserting student %s: %w", st.ID, err)
			}
		}
		printSuccess("Imported %d students", len(students))
		return nil
	},
}

var rosterAbsencesCmd = &cobra.Command{
	Use:   "absences <file>",
	Short: "Load absence counts from a CSV export (student_id, month, absence_count)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening absence file: %w", err)
		}
		defer f.Close()

		records, err := parseAbsencesCSV(f)
		if err != nil {
			return err
		}

		store, err := openLocalStore()
		if err != nil {
			return err
		}
		defer store.Close()

		for _, a := range records {
			if err := store.UpsertAbsence(a); err != nil {
				return fmt.Errorf("upserting absence for %s: %w", a.StudentID, err)
			}
		}
		printSuccess("Imported %d absence records", len(records))
		return nil
	},
}

var rosterPaymentsCmd = &cobra.Command{
	Use:   "payments <file>",
	Short: "Load tuition statuses from a CSV export (student_id, month, status)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening payment file: %w", err)
		}
		defer f.Close()

		records, err := parsePaymentsCSV(f)
		if err != nil {
			return err
		}

		store, err := openLocalStore()
		if err != nil {
			return err
		}
		defer store.Close()

		for _, p := range records {
			if err := store.UpsertPayment(p); err != nil {
				return fmt.Errorf("upserting payment for %s: %w", p.StudentID, err)
			}
		}
		printSuccess("Imported %d payment records", len(records))
		return nil
	},
}

func init() {
	rosterCmd.AddCommand(rosterImportCmd)
	rosterCmd.AddCommand(rosterAbsencesCmd)
	rosterCmd.AddCommand(rosterPaymentsCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

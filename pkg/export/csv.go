package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/dkalashnik/doctor-ai-bot/pkg/stats"
)

const csvTimeLayout = "2006-01-02 15:04:05"

var csvHeader = []string{"Sana", "Kategoriya", "Savol", "Javob", "Baho"}

type CSVExporter struct {
	loc *time.Location
}

func NewCSVExporter(loc *time.Location) *CSVExporter {
	if loc == nil {
		loc = time.UTC
	}
	return &CSVExporter{loc: loc}
}

func (e *CSVExporter) Name() string { return "csv" }

// Export writes one row per consultation in report order. Unrated rows
// leave the score column empty.
func (e *CSVExporter) Export(report stats.Report) (File, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(csvHeader); err != nil {
		return File{}, fmt.Errorf("export csv: header: %w", err)
	}
	for _, c := range report.Consultations {
		score := ""
		if c.FeedbackScore != nil {
			score = strconv.Itoa(*c.FeedbackScore)
		}
		row := []string{
			c.CreatedAt.In(e.loc).Format(csvTimeLayout),
			string(c.Category),
			c.Question,
			c.Answer,
			score,
		}
		if err := w.Write(row); err != nil {
			return File{}, fmt.Errorf("export csv: row %d: %w", c.ID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return File{}, fmt.Errorf("export csv: flush: %w", err)
	}

	return File{
		Name:        "statistika.csv",
		ContentType: "text/csv; charset=utf-8",
		Caption:     "📊 Statistika ma'lumotlari CSV formatida",
		Data:        buf.Bytes(),
	}, nil
}

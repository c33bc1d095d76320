package export

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/dkalashnik/doctor-ai-bot/pkg/stats"
)

var chartTemplate = template.Must(template.New("charts").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Statistika</title>
<script src="https://cdn.plot.ly/plotly-2.35.2.min.js"></script>
</head>
<body>
<div id="category_chart" style="width:100%;height:300px;"></div>
<div id="weekly_chart" style="width:100%;height:300px;"></div>
<div id="feedback_chart" style="width:100%;height:300px;"></div>
<script>
Plotly.newPlot('category_chart',
  [{values: {{.CategoryCounts}}, labels: {{.CategoryLabels}}, type: 'pie'}],
  {title: "Kategoriyalar bo'yicha statistika"});
Plotly.newPlot('weekly_chart',
  [{x: {{.WeekDates}}, y: {{.WeekCounts}}, type: 'bar'}],
  {title: 'Haftalik faollik', xaxis: {title: 'Kunlar'}, yaxis: {title: 'Maslahatlar soni'}});
Plotly.newPlot('feedback_chart',
  [{x: {{.Scores}}, y: {{.ScoreCounts}}, type: 'bar'}],
  {title: 'Baholar taqsimoti', xaxis: {title: 'Baho'}, yaxis: {title: 'Soni'}});
</script>
</body>
</html>
`))

type chartData struct {
	CategoryLabels []string
	CategoryCounts []int64
	WeekDates      []string
	WeekCounts     []int
	Scores         []int
	ScoreCounts    []int64
}

// ChartExporter renders a standalone HTML page with three Plotly charts.
type ChartExporter struct{}

func NewChartExporter() *ChartExporter { return &ChartExporter{} }

func (e *ChartExporter) Name() string { return "chart" }

func (e *ChartExporter) Export(report stats.Report) (File, error) {
	data := chartData{
		CategoryLabels: []string{},
		CategoryCounts: []int64{},
		WeekDates:      []string{},
		WeekCounts:     []int{},
		Scores:         []int{},
		ScoreCounts:    []int64{},
	}
	for _, c := range report.Categories {
		data.CategoryLabels = append(data.CategoryLabels, c.Category.Title())
		data.CategoryCounts = append(data.CategoryCounts, c.Count)
	}
	for _, d := range report.Weekly {
		data.WeekDates = append(data.WeekDates, d.Date.Format(time.DateOnly))
		data.WeekCounts = append(data.WeekCounts, d.Count)
	}
	for _, b := range report.Feedback.Buckets {
		data.Scores = append(data.Scores, b.Score)
		data.ScoreCounts = append(data.ScoreCounts, b.Count)
	}

	var buf bytes.Buffer
	if err := chartTemplate.Execute(&buf, data); err != nil {
		return File{}, fmt.Errorf("export chart: %w", err)
	}
	return File{
		Name:        "charts.html",
		ContentType: "text/html; charset=utf-8",
		Caption:     "📊 Statistika diagrammalari",
		Data:        buf.Bytes(),
	}, nil
}

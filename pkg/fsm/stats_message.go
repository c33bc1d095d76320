package fsm

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	"github.com/dkalashnik/doctor-ai-bot/pkg/models"
	"github.com/dkalashnik/doctor-ai-bot/pkg/stats"
)

var uzbekWeekdays = [...]string{
	time.Sunday:    "Yakshanba",
	time.Monday:    "Dushanba",
	time.Tuesday:   "Seshanba",
	time.Wednesday: "Chorshanba",
	time.Thursday:  "Payshanba",
	time.Friday:    "Juma",
	time.Saturday:  "Shanba",
}

type statsLine struct {
	Label string
	Count int64
}

type statsScore struct {
	Stars   string
	Count   int64
	Percent string
}

type statsPayload struct {
	FirstName         string
	CreatedAt         string
	ConsultationCount int
	DailyCount        int
	FeedbackScore     string
	Categories        []statsLine
	Weekly            []statsLine
	Feedback          []statsScore
	Recent            []string
}

var statsTpl = template.Must(template.New("stats").Parse(`📊 Statistika

👤 Foydalanuvchi: {{.FirstName}}
📅 Ro'yxatdan o'tgan sana: {{.CreatedAt}}
💬 Jami maslahatlar: {{.ConsultationCount}}
📈 Bugungi maslahatlar: {{.DailyCount}}
⭐ O'rtacha baho: {{.FeedbackScore}}/5.0
{{if .Categories}}
📊 Kategoriyalar bo'yicha statistika:
{{range .Categories}}- {{.Label}}: {{.Count}} ta
{{end}}{{end}}
📅 Haftalik faollik:
{{range .Weekly}}- {{.Label}}: {{.Count}} ta maslahat
{{end}}{{if .Feedback}}
⭐ Baholar taqsimoti:
{{range .Feedback}}{{.Stars}}: {{.Count}} ta ({{.Percent}}%)
{{end}}{{end}}{{if .Recent}}
🕐 Oxirgi maslahatlar:
{{range .Recent}}- {{.}}
{{end}}{{end}}`))

func buildStatsPayload(profile *models.UserProfile, summary stats.Summary, loc *time.Location) statsPayload {
	if loc == nil {
		loc = time.UTC
	}
	p := statsPayload{
		FirstName:         profile.FirstName,
		CreatedAt:         profile.CreatedAt.In(loc).Format("2006-01-02"),
		ConsultationCount: profile.ConsultationCount,
		DailyCount:        profile.DailyConsultationCount,
		FeedbackScore:     fmt.Sprintf("%.1f", profile.FeedbackScore),
	}
	for _, c := range summary.Categories {
		p.Categories = append(p.Categories, statsLine{Label: c.Category.Title(), Count: c.Count})
	}
	for _, d := range summary.Weekly {
		p.Weekly = append(p.Weekly, statsLine{Label: uzbekWeekdays[d.Date.In(loc).Weekday()], Count: int64(d.Count)})
	}
	for _, b := range summary.Feedback.Buckets {
		p.Feedback = append(p.Feedback, statsScore{
			Stars:   stars(b.Score),
			Count:   b.Count,
			Percent: fmt.Sprintf("%.1f", summary.Feedback.Percent(b.Score)),
		})
	}
	for _, c := range summary.Recent {
		p.Recent = append(p.Recent, fmt.Sprintf("%s: %s", c.CreatedAt.In(loc).Format("2006-01-02 15:04"), c.Category.Title()))
	}
	return p
}

func renderStatsMessage(payload statsPayload) (string, error) {
	var buf bytes.Buffer
	if err := statsTpl.Execute(&buf, payload); err != nil {
		return "", err
	}
	return buf.String(), nil
}

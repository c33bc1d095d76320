// Package ai produces consultation answers from the text-generation service.
package ai

import (
	"context"
	"strings"

	"github.com/dkalashnik/doctor-ai-bot/pkg/models"
)

// FallbackMessage is shown to the user whenever generation fails or times out.
const FallbackMessage = "Kechirasiz, texnik nosozlik yuz berdi. Iltimos, keyinroq urinib ko'ring."

// Disclaimer is appended to every generated answer.
const Disclaimer = "\n\n⚠️ Eslatma: Ushbu ma'lumot faqat umumiy maslahat uchun. " +
	"Aniq tashxis va davolanish uchun shifokorga murojaat qiling."

const persona = "Siz malakali shifokorsiz va tibbiy konsultatsiya boti sifatida ishlaysiz. " +
	"Foydalanuvchilarga umumiy tibbiy maslahatlar bering, shu bilan birga aniq tashxis qo'yish " +
	"va davolanish uchun ularni haqiqiy tibbiyot mutaxassislariga murojaat qilishga undab turing. " +
	"Doim professional va g'amxo'rlik ohangida javob bering. Oldingi suhbat tarixini inobatga olgan " +
	"holda javoblarni shakllantiring. O'zbek tilida javob bering."

// Generator turns a category and a rendered context window into an answer.
// Implementations must honour ctx cancellation.
type Generator interface {
	Generate(ctx context.Context, category models.Category, promptContext string) (string, error)
}

type GeneratorFunc func(ctx context.Context, category models.Category, promptContext string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, category models.Category, promptContext string) (string, error) {
	return f(ctx, category, promptContext)
}

// Persona is the system instruction sent with every request.
func Persona() string { return persona }

func categoryInstruction(category models.Category) string {
	switch category {
	case models.CategoryGeneral:
		return "Foydalanuvchining umumiy tibbiy holati haqidagi savoliga malakali shifokor sifatida javob bering: "
	case models.CategoryMedicine:
		return "Dori-darmonlar haqida malakali shifokor sifatida ma'lumot bering, ularning maqsadi, yon ta'siri va dozasi " +
			"haqida ma'lumot bering, ammo o'z-o'zini davolashni tavsiya etmang: "
	case models.CategoryHospitals:
		return "Kasalxonalar va tibbiy muassasalar haqida malakali shifokor sifatida ma'lumot bering, ularning ixtisosligi, " +
			"manzili va aloqa ma'lumotlarini taqdim eting: "
	case models.CategorySpecialists:
		return "Tibbiyot mutaxassislari haqida malakali shifokor sifatida ma'lumot bering, ularning ixtisosligi, " +
			"tajribasi va aloqa ma'lumotlarini taqdim eting: "
	default:
		return ""
	}
}

// BuildPrompt joins the category instruction and the context window.
func BuildPrompt(category models.Category, promptContext string) string {
	return categoryInstruction(category) + "\n" + promptContext
}

// WithDisclaimer trims the raw answer and appends the disclaimer.
func WithDisclaimer(answer string) string {
	return strings.TrimSpace(answer) + Disclaimer
}

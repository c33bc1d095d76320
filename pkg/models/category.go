package models

import "strings"

// Category is the consultation topic a session is scoped to.
type Category string

const (
	CategoryGeneral     Category = "general"
	CategoryMedicine    Category = "medicine"
	CategoryHospitals   Category = "hospitals"
	CategorySpecialists Category = "specialists"
)

var categories = []Category{
	CategoryGeneral,
	CategoryMedicine,
	CategoryHospitals,
	CategorySpecialists,
}

var categoryTitles = map[Category]string{
	CategoryGeneral:     "👨‍⚕️ Umumiy maslahat",
	CategoryMedicine:    "💊 Dori-darmonlar",
	CategoryHospitals:   "🏥 Kasalxonalar",
	CategorySpecialists: "👨‍⚕️ Mutaxassislar",
}

// Categories returns the fixed category set in declaration order.
func Categories() []Category {
	out := make([]Category, len(categories))
	copy(out, categories)
	return out
}

// Title is the user-facing label, used both on keyboards and in prompt context.
func (c Category) Title() string {
	if title, ok := categoryTitles[c]; ok {
		return title
	}
	return string(c)
}

// Valid reports whether c is one of the enumerated categories.
func (c Category) Valid() bool {
	_, ok := categoryTitles[c]
	return ok
}

// CategoryFromButton maps keyboard text back to a category.
func CategoryFromButton(text string) (Category, bool) {
	text = strings.TrimSpace(text)
	for _, c := range categories {
		if categoryTitles[c] == text {
			return c, true
		}
	}
	return "", false
}

// ParseCategory accepts the stored code form ("general", "medicine", ...).
func ParseCategory(code string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(code)))
	return c, c.Valid()
}

package fsm

const (
	StateIdle              = "idle"
	StateCategorySelecting = "category_selecting"
	StateConversing        = "conversing"
)

const (
	EventAsk            = "ask"
	EventSelectCategory = "select_category"
	EventBack           = "back"
	EventMainMenu       = "main_menu"
	EventChangeCategory = "change_category"
	EventForceReset     = "force_reset"
)

const (
	CallbackRatePrefix  = "rate:"
	CallbackStatsPrefix = "stats:"
)

const (
	StatsActionCharts = "charts"
	StatsActionExport = "export"
)

const (
	ButtonAsk            = "🩺 Savol berish"
	ButtonStats          = "📊 Statistika"
	ButtonInfo           = "ℹ️ Ma'lumot"
	ButtonBack           = "🔙 Orqaga"
	ButtonMainMenu       = "🔙 Asosiy menyu"
	ButtonChangeCategory = "🔄 Kategoriyani o'zgartirish"
	ButtonShareContact   = "📱 Telefon raqamni yuborish"
	ButtonCharts         = "📊 Diagrammalar"
	ButtonExportCSV      = "📥 Eksport (CSV)"
)

const (
	textWelcome = "👋 Assalomu alaykum, %s!\n\n" +
		"🏥 Doctor AI - sizning shaxsiy tibbiy maslahatchi botingizga xush kelibsiz.\n\n" +
		"🤖 Bot imkoniyatlari:\n" +
		"• Tibbiy maslahatlar\n" +
		"• Dori-darmonlar haqida ma'lumot\n" +
		"• Kasalxonalar va shifokorlar haqida ma'lumot\n\n" +
		"⚠️ Eslatma: Bot bergan maslahatlar faqat umumiy xarakterga ega."
	textAskPhone        = "\n\n📱 Botdan foydalanish uchun telefon raqamingizni yuboring."
	textPhoneSaved      = "✅ Raqamingiz muvaffaqiyatli saqlandi!\nEndi botdan to'liq foydalanishingiz mumkin."
	textChooseCategory  = "🏥 Qaysi yo'nalishda maslahat olmoqchisiz?"
	textNewCategory     = "🏥 Yangi kategoriyani tanlang:"
	textInvalidCategory = "❌ Noto'g'ri kategoriya. Iltimos, quyidagi tugmalardan birini tanlang."
	textSessionStarted  = "✅ %s bo'yicha savol-javob sessiyasi boshlandi.\n\n" +
		"✍️ Savolingizni yozing:\n\n" +
		"📝 Eslatma: Siz asosiy menyuga qaytmaguncha yoki kategoriyani o'zgartirmaguncha " +
		"shu mavzu bo'yicha savollar berishingiz mumkin."
	textBackToMenu      = "Asosiy menyuga qaytdingiz."
	textQuotaExceeded   = "⚠️ Siz bugun ko'p savol berdingiz. Iltimos, ertaga qayta urinib ko'ring."
	textBlocked         = "⛔️ Sizning hisobingiz bloklangan."
	textRatePrompt      = "Javobdan qanchalik qoniqdingiz? (1-5 yulduz):"
	textRated           = "✅ Rahmat! Sizning bahoyingiz: %s"
	textAlreadyRated    = "Bu javob allaqachon baholangan."
	textGenericError    = "Xatolik yuz berdi. Iltimos, qaytadan urinib ko'ring."
	textSessionLost     = "Xatolik yuz berdi. Iltimos, qaytadan boshlang."
	textNotRecorded     = "Javobni saqlashda xatolik yuz berdi. Iltimos, savolingizni qaytadan yuboring."
	textEmptyQuestion   = "✍️ Iltimos, savolingizni matn ko'rinishida yozing."
	textUseButtons      = "Iltimos, quyidagi tugmalardan foydalaning."
	textUnknownCommand  = "Noma'lum buyruq."
	textProfileNotFound = "Foydalanuvchi ma'lumotlari topilmadi."
	textChartsError     = "Diagrammalarni ko'rsatishda xatolik yuz berdi."
	textExportError     = "Statistikani eksport qilishda xatolik yuz berdi."
	textInfo            = "ℹ️ Doctor AI Bot haqida\n\n" +
		"🤖 Bu bot sizga umumiy tibbiy maslahat berish uchun yaratilgan. " +
		"Bot orqali dori-darmonlar, shifokorlar va kasalxonalar haqida ma'lumot olishingiz mumkin.\n\n" +
		"⚠️ Eslatma: Bot orqali berilgan ma'lumotlar faqat maslahat uchun bo'lib, " +
		"aniq tashxis va davolanish uchun shifokorga murojaat qilishingiz kerak."
)

package models

// ContentType тип материала каталога.
type ContentType string

const (
	// ContentTypeArticle — статья.
	ContentTypeArticle ContentType = "article"
	// ContentTypeQuiz — квиз.
	ContentTypeQuiz ContentType = "quiz"
)

// Content запись каталога контента. Slug уникален и служит внешним
// идентификатором материала во всех запросах.
type Content struct {
	Slug         string      // Уникальный слаг материала
	Type         ContentType // Тип материала: article или quiz
	Price        int         // Цена разовой покупки в минорных единицах
	IsPremium    bool        // Требует ли материал покупки или подписки
	FreeEligible bool        // Доступен ли материал в рамках бесплатной квоты
}

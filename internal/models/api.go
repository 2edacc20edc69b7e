package models

type ClassificationFeedbackRequest struct {
	ArticleID         string `json:"article_id" binding:"required"`
	PredictedLabel    string `json:"predicted_label"`
	CorrectedLabel    string `json:"corrected_label" binding:"required"`
	ClassifierVersion string `json:"classifier_version"`
}

type SummaryFeedbackRequest struct {
	ArticleID         string `json:"article_id" binding:"required"`
	Rating            string `json:"rating"`
	EditedSummary     string `json:"edited_summary"`
	SummarizerVersion string `json:"summarizer_version"`
}

type PredictionRequest struct {
	ArticleID     string  `json:"article_id" binding:"required"`
	Label         string  `json:"label" binding:"required"`
	Confidence    float64 `json:"confidence"`
	ModelVersion  string  `json:"model_version"`
	TextWordCount int     `json:"text_word_count"`
}

type RollbackRequest struct {
	ToVersion int `json:"to_version"`
}

type RetrainRequest struct {
	Force bool `json:"force"`
}

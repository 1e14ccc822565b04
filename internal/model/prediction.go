package model

import "time"

// Outcome is one category with its probability.
type Outcome struct {
	Label       string  `json:"label"`
	Probability float64 `json:"probability"`
}

// Prediction is the classification of one text as emitted by outputs and
// the HTTP API.
type Prediction struct {
	Text            string    `json:"text,omitempty"`
	Label           string    `json:"label"`
	Probability     float64   `json:"probability"`
	Outcomes        []Outcome `json:"outcomes,omitempty"` // descending probability
	OutOfVocabulary int       `json:"oov,omitempty"`      // input features unknown to the model
	Timestamp       time.Time `json:"timestamp"`
	ModelID         string    `json:"model_id,omitempty"`
}

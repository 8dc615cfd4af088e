// Package classifier decides whether the text of a newly created file is a
// ransom note.
package classifier

import (
	"context"
	"fmt"
)

// Label is the outcome of a classification.
type Label int

const (
	Benign Label = iota
	Malicious
)

func (l Label) String() string {
	switch l {
	case Benign:
		return "benign"
	case Malicious:
		return "malicious"
	default:
		return fmt.Sprintf("label(%d)", int(l))
	}
}

// Result is a label plus the model score behind it, when the model has one.
type Result struct {
	Label Label   `json:"label"`
	Score float64 `json:"score"`
}

// Classifier is the synchronous predict contract.
type Classifier interface {
	Classify(ctx context.Context, text string) (Result, error)
}

package classifier

import (
	"context"
	_ "embed"
	"fmt"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default_model.yaml
var defaultModel []byte

// LinearModel is a logistic model over L2-normalized term frequencies.
type LinearModel struct {
	Name      string             `yaml:"name"`
	Bias      float64            `yaml:"bias"`
	Threshold float64            `yaml:"threshold"`
	Weights   map[string]float64 `yaml:"weights"`
}

// LoadLinearModel reads a model file. An empty path loads the built-in
// ransom-note lexicon model.
func LoadLinearModel(path string) (*LinearModel, error) {
	data := defaultModel
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read model %s: %w", path, err)
		}
	}
	return ParseLinearModel(data)
}

// ParseLinearModel decodes and validates a YAML model. Weight terms go
// through the same preprocessing as input text.
func ParseLinearModel(data []byte) (*LinearModel, error) {
	var raw LinearModel
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse model: %w", err)
	}
	if len(raw.Weights) == 0 {
		return nil, fmt.Errorf("model has no weights")
	}
	if raw.Threshold == 0 {
		raw.Threshold = 0.5
	}
	if raw.Threshold <= 0 || raw.Threshold >= 1 {
		return nil, fmt.Errorf("model threshold %v must be in (0, 1)", raw.Threshold)
	}

	m := &LinearModel{
		Name:      raw.Name,
		Bias:      raw.Bias,
		Threshold: raw.Threshold,
		Weights:   make(map[string]float64, len(raw.Weights)),
	}
	for term, w := range raw.Weights {
		tokens := Preprocess(term)
		if len(tokens) != 1 {
			return nil, fmt.Errorf("model term %q must be a single non stop word", term)
		}
		m.Weights[tokens[0]] += w
	}
	return m, nil
}

// Score returns the malicious probability of text.
func (m *LinearModel) Score(text string) float64 {
	tf := make(map[string]float64)
	for _, tok := range Preprocess(text) {
		tf[tok]++
	}

	var norm float64
	for _, n := range tf {
		norm += n * n
	}
	if norm == 0 {
		return sigmoid(m.Bias)
	}
	norm = math.Sqrt(norm)

	z := m.Bias
	for tok, n := range tf {
		z += m.Weights[tok] * n / norm
	}
	return sigmoid(z)
}

// Classify implements Classifier.
func (m *LinearModel) Classify(ctx context.Context, text string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(text) == "" {
		return Result{Label: Benign}, nil
	}

	score := m.Score(text)
	label := Benign
	if score >= m.Threshold {
		label = Malicious
	}
	return Result{Label: label, Score: score}, nil
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

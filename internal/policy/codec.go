package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/lapsim/internal/config"
)

// BestPolicy is the document written after an optimization run. It carries
// enough context to reproduce the evaluation that produced Fitness.
type BestPolicy struct {
	Policy           Policy        `json:"policy"`
	Fitness          float64       `json:"fitness"`
	Generation       int           `json:"generation"`
	TrackFingerprint string        `json:"track_fingerprint,omitempty"`
	Config           config.Config `json:"config"`
}

// Marshal encodes p. Float genes use the shortest representation that
// decodes to the same bits.
func Marshal(p Policy) ([]byte, error) {
	return json.Marshal(p)
}

// Unmarshal decodes and validates a policy.
func Unmarshal(data []byte) (Policy, error) {
	var p Policy
	if err := json.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("failed to parse policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, fmt.Errorf("invalid policy: %w", err)
	}
	return p, nil
}

// WriteFile writes doc as indented JSON.
func WriteFile(path string, doc BestPolicy) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode best policy: %w", err)
	}
	if err := os.WriteFile(filepath.Clean(path), append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write best policy: %w", err)
	}
	return nil
}

// ReadFile reads a best-policy document, or a bare policy, from path.
func ReadFile(path string) (BestPolicy, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return BestPolicy{}, fmt.Errorf("failed to read policy file: %w", err)
	}

	var probe struct {
		Policy json.RawMessage `json:"policy"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return BestPolicy{}, fmt.Errorf("failed to parse policy file: %w", err)
	}
	if probe.Policy == nil {
		p, err := Unmarshal(data)
		if err != nil {
			return BestPolicy{}, err
		}
		return BestPolicy{Policy: p, Config: config.Defaults()}, nil
	}

	doc := BestPolicy{Config: config.Defaults()}
	if err := json.Unmarshal(data, &doc); err != nil {
		return BestPolicy{}, fmt.Errorf("failed to parse best policy: %w", err)
	}
	if err := doc.Policy.Validate(); err != nil {
		return BestPolicy{}, fmt.Errorf("invalid policy: %w", err)
	}
	return doc, nil
}

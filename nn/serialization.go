package nn

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"sort"

	"github.com/pkg/errors"
)

const (
	bundleType    = "tutor/bundle"
	bundleVersion = 1
	weightsFormat = "jsonModelB64"
)

// ModelBundle represents a collection of saved models
type ModelBundle struct {
	Type    string       `json:"type"`
	Version int          `json:"version"`
	Models  []SavedModel `json:"models"`
}

// SavedModel represents a single saved model with config and weights
type SavedModel struct {
	ID      string         `json:"id"`
	Config  NetworkConfig  `json:"cfg"`
	Weights EncodedWeights `json:"weights"`
}

// NetworkConfig represents the network architecture
type NetworkConfig struct {
	InputSize       int    `json:"input_size"`
	HiddenSize      int    `json:"hidden_size"`
	OutputSize      int    `json:"output_size"`
	DenseActivation string `json:"dense_activation"`
}

// EncodedWeights stores weights in base64-encoded JSON format
type EncodedWeights struct {
	Format string `json:"fmt"`
	Data   string `json:"data"`
}

// WeightsData is the decoded payload of EncodedWeights.
type WeightsData struct {
	Type   string        `json:"type"`
	Params []NamedTensor `json:"params"`
	Hidden []float64     `json:"hidden,omitempty"`
	Cell   []float64     `json:"cell,omitempty"`
}

// NamedTensor is one parameter tensor by name.
type NamedTensor struct {
	Name   string    `json:"name"`
	Values []float64 `json:"values"`
}

// SerializeModel captures the architecture, parameters and recurrent state.
func (n *Network) SerializeModel(modelID string) (SavedModel, error) {
	data := WeightsData{Type: "float64"}
	for _, p := range n.Params() {
		data.Params = append(data.Params, NamedTensor{Name: p.Name, Values: append([]float64(nil), p.Value...)})
	}
	data.Hidden, data.Cell = n.State()

	raw, err := json.Marshal(data)
	if err != nil {
		return SavedModel{}, errors.Wrap(err, "marshal weights")
	}

	return SavedModel{
		ID: modelID,
		Config: NetworkConfig{
			InputSize:       n.InputSize,
			HiddenSize:      n.HiddenSize,
			OutputSize:      n.OutputSize,
			DenseActivation: n.Dense.Activation.String(),
		},
		Weights: EncodedWeights{
			Format: weightsFormat,
			Data:   base64.StdEncoding.EncodeToString(raw),
		},
	}, nil
}

// DeserializeModel rebuilds a network from a SavedModel.
func DeserializeModel(saved SavedModel) (*Network, error) {
	if saved.Weights.Format != weightsFormat {
		return nil, errors.Errorf("model %s: unsupported weights format %q", saved.ID, saved.Weights.Format)
	}

	cfg := saved.Config
	n, err := NewNetwork(cfg.InputSize, cfg.HiddenSize, cfg.OutputSize,
		WithSeed(1), WithDenseActivation(ParseActivation(cfg.DenseActivation)))
	if err != nil {
		return nil, errors.Wrapf(err, "model %s", saved.ID)
	}

	raw, err := base64.StdEncoding.DecodeString(saved.Weights.Data)
	if err != nil {
		return nil, errors.Wrapf(err, "model %s: decode weights", saved.ID)
	}
	var data WeightsData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, errors.Wrapf(err, "model %s: unmarshal weights", saved.ID)
	}

	for _, t := range data.Params {
		p := n.Param(t.Name)
		if p == nil {
			return nil, errors.Errorf("model %s: unknown parameter %q", saved.ID, t.Name)
		}
		if err := checkSize(t.Name, len(t.Values), len(p.Value)); err != nil {
			return nil, errors.Wrapf(err, "model %s", saved.ID)
		}
		copy(p.Value, t.Values)
	}

	if len(data.Hidden) > 0 {
		if err := n.SetState(data.Hidden, data.Cell); err != nil {
			return nil, errors.Wrapf(err, "model %s", saved.ID)
		}
	}
	return n, nil
}

// SaveModel saves a single model to a file
func (n *Network) SaveModel(filename string, modelID string) error {
	saved, err := n.SerializeModel(modelID)
	if err != nil {
		return errors.Wrap(err, "failed to serialize model")
	}
	bundle := ModelBundle{Type: bundleType, Version: bundleVersion, Models: []SavedModel{saved}}
	return bundle.SaveToFile(filename)
}

// LoadModel loads the model with the given ID from a bundle file
func LoadModel(filename string, modelID string) (*Network, error) {
	bundle, err := LoadBundle(filename)
	if err != nil {
		return nil, err
	}
	for _, m := range bundle.Models {
		if m.ID == modelID {
			return DeserializeModel(m)
		}
	}
	return nil, errors.Errorf("model %q not found in %s", modelID, filename)
}

// SaveBundle saves multiple models to a bundle file
func SaveBundle(filename string, models map[string]*Network) error {
	ids := make([]string, 0, len(models))
	for id := range models {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	bundle := ModelBundle{Type: bundleType, Version: bundleVersion}
	for _, id := range ids {
		saved, err := models[id].SerializeModel(id)
		if err != nil {
			return errors.Wrapf(err, "failed to serialize model %s", id)
		}
		bundle.Models = append(bundle.Models, saved)
	}
	return bundle.SaveToFile(filename)
}

// LoadBundle reads a bundle file
func LoadBundle(filename string) (*ModelBundle, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "read bundle")
	}
	var bundle ModelBundle
	if err := json.Unmarshal(raw, &bundle); err != nil {
		return nil, errors.Wrap(err, "parse bundle")
	}
	if bundle.Type != bundleType {
		return nil, errors.Errorf("unexpected bundle type %q", bundle.Type)
	}
	if bundle.Version != bundleVersion {
		return nil, errors.Errorf("unsupported bundle version %d", bundle.Version)
	}
	return &bundle, nil
}

// SaveToFile writes the bundle as indented JSON
func (b *ModelBundle) SaveToFile(filename string) error {
	raw, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal bundle")
	}
	if err := os.WriteFile(filename, raw, 0o644); err != nil {
		return errors.Wrap(err, "write bundle")
	}
	return nil
}

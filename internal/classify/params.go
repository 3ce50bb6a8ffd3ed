package classify

import (
	"fmt"
	"maps"
	"os"

	"gopkg.in/yaml.v2"
)

// Params are the inputs of the classification algorithm keyed by the
// algorithm's parameter names.
type Params map[string]any

const RasterOutputParam = "RASTER_OUTPUT"

// DefaultParams mirrors the parameter set of the SCP classification script.
// Path parameters are left empty and are expected to come from a defaults
// file or the request.
func DefaultParams() Params {
	return Params{
		"BAND_INPUT_LAYERS":      []any{},
		"TRAINING_INPUT_SCPX":    "",
		"TESTING_INPUT_SCPX":     "",
		"USE_MACROCLASS":         true,
		"MC_OR_CLASS_FIELD":      "macroclass_id",
		"NODATA":                 nil,
		"NORMALIZATION":          nil,
		"ML_MODEL":               2,
		"SINGLE_THRESHOLD":       nil,
		"SIGNATURE_THRESHOLD":    false,
		"SAVE_SIGNATURE":         false,
		"CALCULATE_CONFIDENCE":   false,
		"MLP_LAYERS":             "100",
		"MLP_MAX_ITER":           200,
		"MLP_ACTIVATION":         "relu",
		"MLP_APLHA":              0.01,
		"MLP_TRAIN_PORTION":      0.9,
		"MLP_BATCH_SIZE":         "auto",
		"MLP_LEARNING_RATE_INIT": 0.001,
		"CROSS_VALIDATION":       false,
		"RF_TREES":               10,
		"RF_SPLIT":               2,
		"RF_MAX_FEATURES":        "",
		"RF_ONE_VS_REST":         false,
		"SVM_REGULARIZATION":     1,
		"SVM_KERNEL":             "rbf",
		"SVM_GAMMA":              "scale",
		"FIND_BEST_ESTIMATOR":    nil,
		"BALANCED_CLASS_WEIGHT":  false,
		"CLASSIFIER_INPUT_RSMO":  "",
		RasterOutputParam:        "TEMPORARY_OUTPUT",
		"CLASSIFICATION_FOLDER":  "",
	}
}

// LoadParams reads a YAML mapping of parameter overrides and applies it on
// top of DefaultParams.
func LoadParams(path string) (Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading params file %s: %w", path, err)
	}

	overrides, err := ParseOverrides(data)
	if err != nil {
		return nil, fmt.Errorf("error parsing params file %s: %w", path, err)
	}

	return DefaultParams().Merge(overrides), nil
}

// ParseOverrides decodes a YAML (or JSON) mapping of parameter overrides.
func ParseOverrides(data []byte) (map[string]any, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	overrides := make(map[string]any, len(raw))
	for k, v := range raw {
		overrides[k] = normalizeYAML(v)
	}
	return overrides, nil
}

// ParseValue decodes a single scalar the way YAML would, so that "0.7" is a
// number, "true" a bool and "null" nil.
func ParseValue(s string) any {
	var v any
	if err := yaml.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return normalizeYAML(v)
}

// normalizeYAML converts the map[interface{}]interface{} values produced by
// yaml.v2 into JSON compatible maps.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalizeYAML(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeYAML(val)
		}
		return out
	default:
		return v
	}
}

// Merge returns a copy of p with overrides applied. Keys are replaced
// wholesale, nested values are not merged.
func (p Params) Merge(overrides map[string]any) Params {
	out := maps.Clone(p)
	if out == nil {
		out = make(Params, len(overrides))
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

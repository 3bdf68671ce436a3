package model

import (
	"encoding/gob"
	"encoding/json"
	"io"
	"os"

	"github.com/YuminosukeSato/gocmt/pkg/errors"
)

// State はモデルの状態を表す構造体（シリアライゼーション用）
//
// The parameter vector uses the same layout as Parameters, so a model can be
// rebuilt from Kind, the dimensions and Hyperparameters alone.
type State struct {
	// Kind はモデルの種類（MCGSM, MCBM, GLM）
	Kind string `json:"kind"`

	DimIn  int `json:"dim_in"`
	DimOut int `json:"dim_out"`

	// Hyperparameters は構造を決めるハイパーパラメータ（numComponents 等）
	Hyperparameters map[string]int `json:"hyperparameters,omitempty"`

	// Attributes holds non-numeric settings such as the GLM nonlinearity.
	Attributes map[string]string `json:"attributes,omitempty"`

	// Parameters はパラメータベクトル
	Parameters []float64 `json:"parameters"`
}

// ToJSON はStateをJSON形式にシリアライズ
func (s *State) ToJSON() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// FromJSON はJSON形式からStateをデシリアライズ
func (s *State) FromJSON(data []byte) error {
	if err := json.Unmarshal(data, s); err != nil {
		return errors.Wrap(err, "failed to decode state")
	}
	return s.Validate()
}

// Validate はStateの妥当性を検証
func (s *State) Validate() error {
	if s.Kind == "" {
		return errors.NewValidationError("kind", "kind is required", s.Kind)
	}
	if s.DimIn <= 0 {
		return errors.NewValidationError("dim_in", "must be positive", s.DimIn)
	}
	if s.DimOut <= 0 {
		return errors.NewValidationError("dim_out", "must be positive", s.DimOut)
	}
	return nil
}

// Expect checks that the state was produced by a model of the given kind.
func (s *State) Expect(kind string) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.Kind != kind {
		return errors.NewValidationError("kind", "unexpected model kind", s.Kind)
	}
	return nil
}

// Hyperparameter returns a required hyperparameter.
func (s *State) Hyperparameter(name string) (int, error) {
	v, ok := s.Hyperparameters[name]
	if !ok {
		return 0, errors.NewValidationError(name, "missing hyperparameter", nil)
	}
	return v, nil
}

// Clone はStateのディープコピーを作成
func (s *State) Clone() *State {
	clone := &State{
		Kind:       s.Kind,
		DimIn:      s.DimIn,
		DimOut:     s.DimOut,
		Parameters: make([]float64, len(s.Parameters)),
	}
	copy(clone.Parameters, s.Parameters)
	if s.Hyperparameters != nil {
		clone.Hyperparameters = make(map[string]int, len(s.Hyperparameters))
		for k, v := range s.Hyperparameters {
			clone.Hyperparameters[k] = v
		}
	}
	if s.Attributes != nil {
		clone.Attributes = make(map[string]string, len(s.Attributes))
		for k, v := range s.Attributes {
			clone.Attributes[k] = v
		}
	}
	return clone
}

// SaveState はStateをio.Writerにgob形式で保存する
func SaveState(s *State, w io.Writer) error {
	if err := gob.NewEncoder(w).Encode(s); err != nil {
		return errors.Wrap(err, "failed to encode state")
	}
	return nil
}

// LoadState はio.ReaderからStateを読み込む
func LoadState(r io.Reader) (*State, error) {
	var s State
	if err := gob.NewDecoder(r).Decode(&s); err != nil {
		return nil, errors.Wrap(err, "failed to decode state")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// SaveStateFile はStateをファイルに保存する
//
// 使用例:
//
//	err := model.SaveStateFile(m.State(), "mcgsm.gob")
func SaveStateFile(s *State, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return errors.Wrap(err, "failed to create file")
	}
	defer file.Close()
	return SaveState(s, file)
}

// LoadStateFile はファイルからStateを読み込む
func LoadStateFile(filename string) (*State, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open file")
	}
	defer file.Close()
	return LoadState(file)
}

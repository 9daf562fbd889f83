package core

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// ConfigRequest is a reconfiguration request as sent by the UI. All fields are required.
type ConfigRequest struct {
	Source                string  `json:"source"`
	SourceParams          string  `json:"sourceParams"`
	DataFormat            string  `json:"dataFormat"`
	CentreFrequencyHz     int     `json:"centreFrequencyHz"`
	RealCentreFrequencyHz int     `json:"realCentreFrequencyHz"`
	SdrBwHz               int     `json:"sdrBwHz"`
	PPMError              float64 `json:"ppmError"`
	Window                string  `json:"window"`
	Sps                   int     `json:"sps"`
	FFTSize               int     `json:"fftSize"`
	Gain                  float64 `json:"gain"`
	GainMode              string  `json:"gainMode"`
	UUID                  string  `json:"uuid"`
}

// ErrIncompleteRequest is returned when a request lacks one or more required fields.
var ErrIncompleteRequest = errors.New("incomplete configuration request")

// HasIdentity reports whether none of the source identity fields is empty.
func (r ConfigRequest) HasIdentity() bool {
	return r.Source != "" && r.SourceParams != "" && r.DataFormat != ""
}

// Validate checks the value ranges of the request.
func (r ConfigRequest) Validate() error {
	var problems []string
	if r.Sps <= 0 {
		problems = append(problems, "sps must be positive")
	}
	if r.FFTSize <= 0 {
		problems = append(problems, "fftSize must be positive")
	}
	if r.CentreFrequencyHz < 0 {
		problems = append(problems, "centreFrequencyHz must not be negative")
	}
	if r.SdrBwHz < 0 {
		problems = append(problems, "sdrBwHz must not be negative")
	}
	if len(problems) > 0 {
		return errors.Wrap(ErrIncompleteRequest, strings.Join(problems, ", "))
	}
	return nil
}

// requestFields lists the JSON names of all required fields.
var requestFields = []string{
	"source", "sourceParams", "dataFormat", "centreFrequencyHz", "realCentreFrequencyHz",
	"sdrBwHz", "ppmError", "window", "sps", "fftSize", "gain", "gainMode", "uuid",
}

// ParseConfigRequest decodes a JSON request. The request is rejected as a whole if any field is missing or invalid.
func ParseConfigRequest(data []byte) (ConfigRequest, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return ConfigRequest{}, errors.Wrap(err, "cannot parse configuration request")
	}

	var missing []string
	for _, field := range requestFields {
		value, ok := raw[field]
		if !ok || string(value) == "null" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return ConfigRequest{}, errors.Wrapf(ErrIncompleteRequest, "missing %s", strings.Join(missing, ", "))
	}

	var result ConfigRequest
	if err := json.Unmarshal(data, &result); err != nil {
		return ConfigRequest{}, errors.Wrap(err, "cannot decode configuration request")
	}
	if err := result.Validate(); err != nil {
		return ConfigRequest{}, err
	}
	return result, nil
}

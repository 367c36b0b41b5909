package profile

import (
	_ "embed"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/linkplay-community/linkplay-go/pkg/model"
)

//go:embed hardware.yaml
var hardwareYAML []byte

type hardwareEntry struct {
	Match  string         `yaml:"match"`
	Inputs []model.Source `yaml:"inputs"`
}

type hardwareTable struct {
	Models []hardwareEntry `yaml:"models"`
}

var (
	hardwareOnce sync.Once
	hardware     hardwareTable
	hardwareErr  error
)

func loadHardware() {
	hardwareOnce.Do(func() {
		hardwareErr = yaml.Unmarshal(hardwareYAML, &hardware)
	})
}

// HardwareInputs returns the physical input set for a device model, or
// ok=false when the model is not in the table and the firmware-advertised
// list should be trusted as-is. Matching is case-insensitive substring,
// first entry wins.
func HardwareInputs(deviceModel string) (inputs []model.Source, ok bool) {
	loadHardware()
	if hardwareErr != nil {
		return nil, false
	}
	needle := strings.ToLower(strings.TrimSpace(deviceModel))
	if needle == "" {
		return nil, false
	}
	for _, e := range hardware.Models {
		if strings.Contains(needle, strings.ToLower(e.Match)) {
			out := make([]model.Source, len(e.Inputs))
			copy(out, e.Inputs)
			return out, true
		}
	}
	return nil, false
}

// FilterInputs intersects the firmware-advertised input list with the
// hardware table for the model. Unknown models pass through unchanged.
// Order follows the advertised list so callers keep the device's own
// presentation order.
func FilterInputs(deviceModel string, advertised []model.Source) []model.Source {
	allowed, ok := HardwareInputs(deviceModel)
	if !ok {
		return advertised
	}
	set := make(map[model.Source]struct{}, len(allowed))
	for _, s := range allowed {
		set[s] = struct{}{}
	}
	out := make([]model.Source, 0, len(advertised))
	for _, s := range advertised {
		if _, present := set[s]; present {
			out = append(out, s)
		}
	}
	return out
}

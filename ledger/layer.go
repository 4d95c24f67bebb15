package ledger

import "github.com/rotisserie/eris"

// Layer is a storage tier that can hold write-ownership of an object.
type Layer uint8

const (
	LayerUndefined Layer = iota
	// LayerBase is the durable tier where objects live when they are not delegated.
	LayerBase
	// LayerRollup is the fast tier objects are delegated to for gameplay.
	LayerRollup
)

const (
	baseLayerString      = "base"
	rollupLayerString    = "rollup"
	undefinedLayerString = "undefined"
)

func (l Layer) String() string {
	switch l {
	case LayerBase:
		return baseLayerString
	case LayerRollup:
		return rollupLayerString
	case LayerUndefined:
		return undefinedLayerString
	default:
		return undefinedLayerString
	}
}

// ParseLayer converts a string to a Layer.
func ParseLayer(s string) (Layer, error) {
	switch s {
	case baseLayerString:
		return LayerBase, nil
	case rollupLayerString:
		return LayerRollup, nil
	case undefinedLayerString:
		return LayerUndefined, nil
	default:
		return LayerUndefined, eris.Errorf("unknown layer %q", s)
	}
}

func (l Layer) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *Layer) UnmarshalText(text []byte) error {
	parsed, err := ParseLayer(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

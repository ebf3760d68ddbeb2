package pricing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BatmanBruc/gpt-bot/types"
)

var ErrNoPrice = errors.New("no price defined")

type Model struct {
	Code types.ModelCode
	ID   string
	Kind types.ModelKind
}

var models = map[types.ModelCode]Model{
	types.ModelGPT3:   {Code: types.ModelGPT3, ID: "gpt-3.5-turbo", Kind: types.KindText},
	types.ModelGPT4:   {Code: types.ModelGPT4, ID: "gpt-4-turbo", Kind: types.KindText},
	types.ModelGPT4o:  {Code: types.ModelGPT4o, ID: "gpt-4o", Kind: types.KindText},
	types.ModelDalle3: {Code: types.ModelDalle3, ID: "dall-e-3", Kind: types.KindImage},
}

// Models returns operation models in a stable order.
func Models() []Model {
	return []Model{
		models[types.ModelGPT3],
		models[types.ModelGPT4],
		models[types.ModelGPT4o],
		models[types.ModelDalle3],
	}
}

func Lookup(code types.ModelCode) (Model, bool) {
	m, ok := models[code]
	return m, ok
}

const (
	SizeSquare    = "1024x1024"
	SizeLandscape = "1792x1024"
	SizePortrait  = "1024x1792"

	QualityStandard = "standard"
	QualityHD       = "hd"
)

type ImageSettings struct {
	Size    string
	Quality string
}

func DefaultImageSettings() ImageSettings {
	return ImageSettings{Size: SizeSquare, Quality: QualityStandard}
}

func (s ImageSettings) normalize() ImageSettings {
	s.Size = strings.ToLower(strings.TrimSpace(s.Size))
	s.Quality = strings.ToLower(strings.TrimSpace(s.Quality))
	if s.Size == "" {
		s.Size = SizeSquare
	}
	if s.Quality == "" {
		s.Quality = QualityStandard
	}
	return s
}

func (s ImageSettings) key() string {
	s = s.normalize()
	return s.Size + "/" + s.Quality
}

// ImageVariants lists every size/quality pair the bot can request.
func ImageVariants() []ImageSettings {
	out := make([]ImageSettings, 0, 6)
	for _, q := range []string{QualityStandard, QualityHD} {
		for _, sz := range []string{SizeSquare, SizeLandscape, SizePortrait} {
			out = append(out, ImageSettings{Size: sz, Quality: q})
		}
	}
	return out
}

// Operation is one metered call of a model.
type Operation struct {
	Model types.ModelCode
	Image ImageSettings
}

var textPrices = map[types.ModelCode]float64{
	types.ModelGPT3:  0.1,
	types.ModelGPT4:  1,
	types.ModelGPT4o: 0.5,
}

var imagePrices = map[types.ModelCode]map[string]float64{
	types.ModelDalle3: {
		SizeSquare + "/" + QualityStandard:    2,
		SizeLandscape + "/" + QualityStandard: 4,
		SizePortrait + "/" + QualityStandard:  4,
		SizeSquare + "/" + QualityHD:          4,
		SizeLandscape + "/" + QualityHD:       6,
		SizePortrait + "/" + QualityHD:        6,
	},
}

// Points returns the usage points one operation costs when accounted under
// usageCode. Only the gptokens currency is priced; any other code counts
// operations.
func Points(usageCode types.ModelCode, op Operation) (float64, error) {
	if usageCode != types.ModelGptokens {
		return 1, nil
	}
	if p, ok := textPrices[op.Model]; ok {
		return p, nil
	}
	if table, ok := imagePrices[op.Model]; ok {
		if p, ok := table[op.Image.key()]; ok {
			return p, nil
		}
		return 0, fmt.Errorf("%w: %s %s", ErrNoPrice, op.Model, op.Image.key())
	}
	return 0, fmt.Errorf("%w: %s", ErrNoPrice, op.Model)
}

// MustPoints is Points for combinations the catalog guarantees to be priced.
// A missing price is a catalog bug and panics.
func MustPoints(usageCode types.ModelCode, op Operation) float64 {
	p, err := Points(usageCode, op)
	if err != nil {
		panic(err)
	}
	return p
}

// Payable reports whether model can be paid for with gptokens.
func Payable(model types.ModelCode) bool {
	if _, ok := textPrices[model]; ok {
		return true
	}
	_, ok := imagePrices[model]
	return ok
}

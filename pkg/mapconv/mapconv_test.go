package mapconv

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjetilk/mapper/internal/model"
)

func TestReaderWriterRoundTrip(t *testing.T) {
	mp := model.NewMap()
	mp.ScaleDenominator = 10000
	black := &model.Color{K: 1, Opacity: 1, Name: "Black"}
	mp.Colors = []*model.Color{black}

	boulder := model.NewPointSymbol()
	boulder.Name = "Boulder"
	boulder.Number = [3]int{2, 0, -1}
	boulder.InnerRadius = 300
	boulder.InnerColor = black
	mp.Symbols = []model.Symbol{boulder}
	mp.Layers[0].Objects = append(mp.Layers[0].Objects,
		&model.PointObject{Sym: boulder, Coord: model.MapCoord{X: 5000, Y: 5000}})

	var buf bytes.Buffer
	warnings, err := Export(&buf, mp, nil, Options{})
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.True(t, Detect(buf.Bytes()))

	got, view, warnings, err := Import(&buf, Options{})
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.NotNil(t, view)

	require.Len(t, got.Symbols, 1)
	sym := got.Symbols[0].(*model.PointSymbol)
	assert.Equal(t, "Boulder", sym.Name)
	assert.Equal(t, int64(300), sym.InnerRadius)
	require.Equal(t, 1, got.NumObjects())
}

func TestImportReadError(t *testing.T) {
	_, _, _, err := Import(failingReader{}, Options{})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "read map file"))
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, assert.AnError
}

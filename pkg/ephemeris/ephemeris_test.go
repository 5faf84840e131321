package ephemeris

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"lunarsfs/internal/models"
)

func TestReadExposures(t *testing.T) {
	in := `# exposure
AS15-M-1134.tif 0.85

AS15-M-1135 1.2e0
`
	got, err := ReadExposures(strings.NewReader(in))
	require.NoError(t, err)
	want := Exposures{"AS15-M-1134": 0.85, "AS15-M-1135": 1.2}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("exposures mismatch (-want +got):\n%s", diff)
	}
}

func TestReadPositions(t *testing.T) {
	in := "img1 1 2 3\nimg2 -1.5e8 0 4\n"
	got, err := ReadPositions(strings.NewReader(in))
	require.NoError(t, err)
	want := Positions{"img1": {X: 1, Y: 2, Z: 3}, "img2": {X: -1.5e8, Z: 4}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("positions mismatch (-want +got):\n%s", diff)
	}
}

func TestReadErrors(t *testing.T) {
	_, err := ReadPositions(strings.NewReader("img1 1 2\n"))
	assert.ErrorContains(t, err, "line 1")

	_, err = ReadExposures(strings.NewReader("ok 1\nbad x\n"))
	assert.ErrorContains(t, err, "line 2")
}

func TestKey(t *testing.T) {
	assert.Equal(t, "AS15-M-1134", Key("orbit33/AS15-M-1134.tif"))
	assert.Equal(t, "plain", Key("plain"))
}

func TestApply(t *testing.T) {
	images := []*models.ImageModel{{Name: "data/a.tif"}, {Name: "b.png"}}
	exp := Exposures{"a": 0.5, "b": 2}
	sun := Positions{"a": {X: 1}, "b": {Y: 1}}
	craft := Positions{"a": {Z: 1}, "b": {Z: 2}}

	require.NoError(t, Apply(images, exp, sun, craft))
	assert.Equal(t, 0.5, images[0].Exposure)
	assert.Equal(t, r3.Vec{Y: 1}, images[1].SunPosition)
	assert.Equal(t, r3.Vec{Z: 2}, images[1].SpacecraftPosition)

	delete(craft, "b")
	err := Apply(images, nil, sun, craft)
	assert.True(t, errors.Is(err, ErrMissingEntry))
}

func TestWriteExposuresRoundTrip(t *testing.T) {
	images := []*models.ImageModel{{Name: "a.tif", Exposure: 0.125}, {Name: "b", Exposure: 3}}
	var buf bytes.Buffer
	require.NoError(t, WriteExposures(&buf, images))

	got, err := ReadExposures(&buf)
	require.NoError(t, err)
	assert.Equal(t, Exposures{"a": 0.125, "b": 3}, got)
}

package footprint

import (
	"math"
	"testing"

	"lunarsfs/internal/models"
)

func TestComputeLines(t *testing.T) {
	// usable samples: row 0 -> x in [2,6], row 1 -> none, row 2 -> x = 4
	mask := func(x, y int) bool {
		switch y {
		case 0:
			return x >= 2 && x <= 6
		case 2:
			return x == 4
		}
		return false
	}
	center, maxDist, horCenter, maxVerDist := ComputeLines(mask, 8, 3)

	if center[0] != 4 || maxDist[0] != 3 {
		t.Errorf("Row 0: expected center 4 maxDist 3, got %d %d", center[0], maxDist[0])
	}
	if center[1] != NoFootprint || maxDist[1] != NoFootprint {
		t.Errorf("Row 1 should carry the sentinel, got %d %d", center[1], maxDist[1])
	}
	if center[2] != 4 || maxDist[2] != 1 {
		t.Errorf("Row 2: expected center 4 maxDist 1, got %d %d", center[2], maxDist[2])
	}
	if horCenter[0] != NoFootprint || maxVerDist[7] != NoFootprint {
		t.Errorf("Empty columns should carry the sentinel")
	}
	if horCenter[4] != 1 || maxVerDist[4] != 2 {
		t.Errorf("Column 4: expected center 1 maxDist 2, got %d %d", horCenter[4], maxVerDist[4])
	}
	if horCenter[3] != 0 || maxVerDist[3] != 1 {
		t.Errorf("Column 3: expected center 0 maxDist 1, got %d %d", horCenter[3], maxVerDist[3])
	}
}

func TestLineWeightEnvelope(t *testing.T) {
	const center, maxDist = 10, 6
	if w := LineWeight(center, center, maxDist); w != 1 {
		t.Errorf("Weight at centre should be exactly 1, got %f", w)
	}
	for _, pos := range []int{4, 16, 0, 30, -3} {
		if w := LineWeight(pos, center, maxDist); w != 0 {
			t.Errorf("Weight at %d (outside envelope) should be 0, got %f", pos, w)
		}
	}
	prev := 1.0
	for pos := center + 1; pos < center+maxDist; pos++ {
		w := LineWeight(pos, center, maxDist)
		if w <= 0 || w >= prev {
			t.Errorf("Weight should decrease strictly inside the envelope: %f after %f at %d", w, prev, pos)
		}
		if w != LineWeight(2*center-pos, center, maxDist) {
			t.Errorf("Weight should be symmetric about the centre at %d", pos)
		}
		prev = w
	}
	if w := LineWeight(5, NoFootprint, 4); w != 0 {
		t.Errorf("Sentinel line should weigh 0, got %f", w)
	}
}

func TestBuildAndWeight(t *testing.T) {
	dem := models.NewFilledGrid(10, 8, 0)
	obs := models.NewFilledGrid(5, 4, 0.5)
	obs.Set(0, 0, 0.01) // shadowed corner
	img := &models.ImageModel{Name: "a", Observed: obs, OffsetX: 3, OffsetY: 2}

	Build(img, dem, 0.05, nil)
	if err := img.CheckFootprint(dem.Width, dem.Height); err != nil {
		t.Fatalf("Footprint arrays have wrong lengths: %v", err)
	}

	// DEM rows outside the image carry the sentinel
	if img.CenterLineDEM[0] != NoFootprint || img.HorCenterLineDEM[9] != NoFootprint {
		t.Errorf("Rows and columns outside the image should carry the sentinel")
	}
	if img.CenterLineDEM[3] != img.CenterLine[1]+img.OffsetX {
		t.Errorf("DEM-space centre %d should be image centre %d shifted by the offset",
			img.CenterLineDEM[3], img.CenterLine[1])
	}

	if w := Weight(img, 0, 0); w != 0 {
		t.Errorf("Cell outside the image should weigh 0, got %f", w)
	}
	if w := Weight(img, 5, 3); w <= 0 || w > 1 {
		t.Errorf("Interior cell weight should be in (0,1], got %f", w)
	}
	for row := 0; row < dem.Height; row++ {
		for col := 0; col < dem.Width; col++ {
			w := Weight(img, col, row)
			if w < 0 || w > 1 || math.IsNaN(w) {
				t.Fatalf("Weight %f out of range at (%d,%d)", w, col, row)
			}
		}
	}
}

func TestWeightRequiresBothFrames(t *testing.T) {
	dem := models.NewFilledGrid(4, 4, 0)
	img := &models.ImageModel{Observed: models.NewFilledGrid(4, 4, 1)}
	Build(img, dem, 0, nil)
	if Weight(img, 1, 1) == 0 {
		t.Fatal("Expected a positive weight before invalidating a frame")
	}
	img.CenterLineDEM[1] = NoFootprint
	if w := Weight(img, 1, 1); w != 0 {
		t.Errorf("Pixel failing the DEM frame should weigh 0, got %f", w)
	}
	if w := ImageWeight(img, 1, 1); w == 0 {
		t.Errorf("Image frame weight should be unaffected")
	}
}

func TestBuildHonoursShadowMask(t *testing.T) {
	dem := models.NewFilledGrid(6, 4, 0)
	img := &models.ImageModel{Observed: models.NewFilledGrid(6, 4, 0.5)}
	Build(img, dem, 0.05, nil)
	if img.CenterLine[1] != 2 || img.MaxDist[1] != 4 {
		t.Fatalf("Unmasked row 1: expected center 2 maxDist 4, got %d %d", img.CenterLine[1], img.MaxDist[1])
	}

	// the last column is masked, as a dilated shadow would be
	shadow := make([]bool, len(img.Observed.Data))
	for y := 0; y < 4; y++ {
		shadow[img.Observed.Index(5, y)] = true
	}
	Build(img, dem, 0.05, shadow)
	if img.HorCenterLine[5] != NoFootprint || img.HorCenterLineDEM[5] != NoFootprint {
		t.Errorf("Masked column should carry the sentinel in both frames")
	}
	if img.CenterLine[1] != 2 || img.MaxDist[1] != 3 {
		t.Errorf("Masked row 1: expected center 2 maxDist 3, got %d %d", img.CenterLine[1], img.MaxDist[1])
	}
	if w := Weight(img, 5, 1); w != 0 {
		t.Errorf("Masked pixel should weigh 0, got %f", w)
	}
}

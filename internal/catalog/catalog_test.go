package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/danmuck/kbclient/internal/testutil/testlog"
)

func TestDefaultCatalog(t *testing.T) {
	testlog.Start(t)
	c := Default()
	if got := len(c.Names()); got != 8 {
		t.Fatalf("expected 8 categories, got %d", got)
	}
	excl := c.Exclusive()
	if len(excl) != 3 || excl[0] != "DSSC" || excl[1] != "LPD" || excl[2] != "JungFrau" {
		t.Fatalf("unexpected exclusive categories: %v", excl)
	}
	xgm, err := c.Category("XGM")
	if err != nil {
		t.Fatalf("category: %v", err)
	}
	if got := xgm.PropertiesFor("SCS_BLU_XGM/XGM/DOOCS:output"); len(got) != 3 || got[0] != "intensityTD" {
		t.Fatalf("unexpected suffix properties: %v", got)
	}
	if got := xgm.PropertiesFor("SCS_BLU_XGM/XGM/DOOCS"); len(got) != 1 || got[0] != "photonFlux" {
		t.Fatalf("unexpected properties: %v", got)
	}
	if _, err := c.Category("Laser"); !errors.Is(err, ErrUnknownCategory) {
		t.Fatalf("expected ErrUnknownCategory, got %v", err)
	}
}

func TestCatalogIsImmutable(t *testing.T) {
	testlog.Start(t)
	c := Default()
	dssc, _ := c.Category("DSSC")
	srcs := dssc.Sources()
	srcs[0] = "mutated"
	names := c.Names()
	names[0] = "mutated"

	again, _ := c.Category("DSSC")
	if again.Sources()[0] == "mutated" || c.Names()[0] == "mutated" {
		t.Fatalf("catalog getters must return copies")
	}
}

func TestExpandModules(t *testing.T) {
	testlog.Start(t)
	got := ExpandModules("SCS_DET_DSSC1M-1/DET/*CH0:xtdf", 16)
	if len(got) != 16 || got[0] != "SCS_DET_DSSC1M-1/DET/0CH0:xtdf" || got[15] != "SCS_DET_DSSC1M-1/DET/15CH0:xtdf" {
		t.Fatalf("unexpected expansion: %v", got)
	}
	if got := ExpandModules("SCS_BLU_XGM/XGM/DOOCS", 16); got != nil {
		t.Fatalf("expected no expansion, got %v", got)
	}
	c := Default()
	if name, ok := c.CategoryOf("FXE_DET_LPD1M-1/DET/7CH0:xtdf"); !ok || name != "LPD" {
		t.Fatalf("expected LPD, got %q ok=%v", name, ok)
	}
	if _, ok := c.CategoryOf("UNKNOWN/SOURCE"); ok {
		t.Fatalf("expected unknown source")
	}
}

func TestLoadAndValidate(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.toml")
	body := `
[[categories]]
name = "Camera"
modules = 4
sources = ["CAM/*:output"]
properties = ["data.image"]
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cam, err := c.Category("Camera")
	if err != nil || cam.Modules() != 4 {
		t.Fatalf("unexpected category %+v err=%v", cam, err)
	}

	if _, err := Parse([]byte("[[categories]]\nname = \"\"\n")); !errors.Is(err, ErrInvalidCatalog) {
		t.Fatalf("expected missing name to fail, got %v", err)
	}
	if _, err := Parse([]byte("[[categories]]\nname = \"A\"\n[[categories]]\nname = \"A\"\n")); !errors.Is(err, ErrInvalidCatalog) {
		t.Fatalf("expected duplicate to fail, got %v", err)
	}
	if _, err := Load(filepath.Join(dir, "missing.toml")); err == nil {
		t.Fatalf("expected missing file to fail")
	}
}

package huddle

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeTestPNG(t *testing.T, dir string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, h/2, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	p := filepath.Join(dir, "test.png")
	if err := os.WriteFile(p, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write png: %v", err)
	}
	return p
}

func TestDownscaleLargeImage(t *testing.T) {
	p := writeTestPNG(t, t.TempDir(), 100, 50)
	f, err := readLocal(p, 1<<20)
	if err != nil {
		t.Fatalf("readLocal: %v", err)
	}
	if f.ContentType != "image/png" {
		t.Fatalf("content type = %q", f.ContentType)
	}

	out := downscale(f, 40)
	img, err := png.Decode(bytes.NewReader(out.Data))
	if err != nil {
		t.Fatalf("decode downscaled: %v", err)
	}
	b := img.Bounds()
	if b.Dx() != 40 || b.Dy() != 20 {
		t.Errorf("downscaled to %dx%d, want 40x20", b.Dx(), b.Dy())
	}
	if out.Name != "test.png" || out.ContentType != "image/png" {
		t.Errorf("metadata changed: %s %s", out.Name, out.ContentType)
	}
}

func TestDownscaleKeepsSmallAndNonImages(t *testing.T) {
	p := writeTestPNG(t, t.TempDir(), 32, 32)
	f, err := readLocal(p, 1<<20)
	if err != nil {
		t.Fatalf("readLocal: %v", err)
	}
	if out := downscale(f, 40); out != f {
		t.Error("small image should be returned untouched")
	}
	if out := downscale(f, 0); out != f {
		t.Error("zero limit should disable downscaling")
	}

	text := &mediaFile{Name: "notes.txt", ContentType: "text/plain", Data: []byte("hello")}
	if out := downscale(text, 10); out != text {
		t.Error("non-image should be returned untouched")
	}
	broken := &mediaFile{Name: "x.png", ContentType: "image/png", Data: []byte("not a png")}
	if out := downscale(broken, 10); out != broken {
		t.Error("undecodable image should be returned untouched")
	}
}

func TestReadLocalSizeLimit(t *testing.T) {
	p := writeTestPNG(t, t.TempDir(), 64, 64)
	if _, err := readLocal(p, 10); err == nil {
		t.Error("expected size limit error")
	}
}

func TestChunkText(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		limit int
		want  []string
	}{
		{"empty", "   ", 10, nil},
		{"fits", "short", 10, []string{"short"}},
		{"no limit", "anything goes here", 0, []string{"anything goes here"}},
		{"newline boundary", "first line\nsecond line", 12, []string{"first line", "second line"}},
		{"space", "alpha beta gamma delta", 11, []string{"alpha beta", "gamma delta"}},
		{"hard cut", "abcdefghijklmnop", 5, []string{"abcde", "fghij", "klmno", "p"}},
		{"runes", "ééééé ééééé", 5, []string{"ééééé", "ééééé"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := chunkText(tt.text, tt.limit)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("chunkText(%q, %d) = %q, want %q", tt.text, tt.limit, got, tt.want)
			}
		})
	}
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		raw     string
		want    Target
		wantErr bool
	}{
		{"user:42", Target{Kind: TargetUser, ID: "42"}, false},
		{"@42", Target{Kind: TargetUser, ID: "42"}, false},
		{"huddle:user:42", Target{Kind: TargetUser, ID: "42"}, false},
		{"channel:c9", Target{Kind: TargetChannel, ID: "c9"}, false},
		{"#c9", Target{Kind: TargetChannel, ID: "c9"}, false},
		{" c9 ", Target{Kind: TargetChannel, ID: "c9"}, false},
		{"user:", Target{}, true},
		{"", Target{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseTarget(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseTarget(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}

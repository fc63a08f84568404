package labels

import "testing"

func TestColor_Stable(t *testing.T) {
	for _, label := range []string{"LOC", "PER", "ORG", "", "MISC"} {
		if Color(label) != Color(label) {
			t.Errorf("colour for %q is not stable", label)
		}
	}
}

func TestColor_InPalette(t *testing.T) {
	in := make(map[string]bool, len(Palette))
	for _, c := range Palette {
		in[c] = true
	}
	for _, label := range []string{"LOC", "PER", "ORG", "DATE", "GPE", "NORP"} {
		if !in[Color(label)] {
			t.Errorf("colour for %q not in palette", label)
		}
	}
}

func TestColors(t *testing.T) {
	got := Colors(map[string]string{"Paris": "LOC", "Berlin": "LOC", "Ada": "PER"})
	if len(got) != 2 {
		t.Fatalf("expected 2 labels, got %v", got)
	}
	if got["LOC"] != Color("LOC") || got["PER"] != Color("PER") {
		t.Errorf("unexpected colours: %v", got)
	}
}

package lattice

import "testing"

func TestFlatJoin(t *testing.T) {
	bot, top, c := FlatBot(), FlatTop(), FlatConst

	tests := []struct {
		a, b, expected FlatInt
	}{
		{bot, bot, bot},
		{bot, top, top},
		{top, bot, top},
		{bot, c(1), c(1)},
		{c(1), bot, c(1)},
		{c(1), c(1), c(1)},
		{c(1), c(2), top},
		{c(-3), top, top},
	}

	for _, test := range tests {
		res := test.a.Join(test.b)
		if !res.Eq(test.expected) {
			t.Errorf("%s ⊔ %s = %s, expected %s\n", test.a, test.b, res, test.expected)
		}
	}
}

func TestFlatMeetAndOrder(t *testing.T) {
	if !FlatConst(1).Meet(FlatConst(2)).IsBot() {
		t.Error("1 ⊓ 2 should be ⊥")
	}
	if !FlatTop().Meet(FlatConst(4)).Is(4) {
		t.Error("⊤ ⊓ 4 should be 4")
	}
	if FlatTop().Leq(FlatConst(0)) {
		t.Error("⊤ ⊑ 0 should not hold")
	}
	if !FlatBot().Leq(FlatConst(0)) {
		t.Error("⊥ ⊑ 0 should hold")
	}
	if v, ok := FlatConst(7).Value(); !ok || v != 7 {
		t.Errorf("Value of 7 = %d, %v", v, ok)
	}
	if FlatConst(7).Hash() == FlatConst(8).Hash() {
		t.Log("hash collision between 7 and 8")
	}
}

package score

import (
	"errors"
	"testing"

	"github.com/hitoshi/ieltsprep/internal/model"
)

func TestOverall_RoundsToNearestHalf(t *testing.T) {
	tests := []struct {
		name       string
		l, r, w, s float64
		want       float64
	}{
		{"mean 6.625 rounds down to 6.5", 7, 6.5, 6, 7, 6.5},
		{"mean 6.125 rounds down to 6.0", 6, 6, 6, 6.5, 6.0},
		{"mean 6.75 rounds up to 7.0", 7, 7, 6.5, 6.5, 7.0},
		{"mean 6.25 rounds up to 6.5", 6.5, 6.5, 6, 6, 6.5},
		{"all nines", 9, 9, 9, 9, 9},
		{"single score", 9, 0, 0, 0, 2.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Overall(tt.l, tt.r, tt.w, tt.s)
			if !ok {
				t.Fatal("ok = false, want true")
			}
			if got != tt.want {
				t.Errorf("Overall = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOverall_AllZeroIsUndefined(t *testing.T) {
	if _, ok := Overall(0, 0, 0, 0); ok {
		t.Error("全て0の場合は ok = false であるべき")
	}
}

func TestOverall_MatchesFormulaOnGrid(t *testing.T) {
	for l := 0.0; l <= 9; l += 1.5 {
		for r := 0.0; r <= 9; r += 2 {
			for w := 0.5; w <= 9; w += 2.5 {
				s := 9 - l/2
				got, ok := Overall(l, r, w, s)
				if !ok {
					t.Fatalf("Overall(%v,%v,%v,%v) ok = false", l, r, w, s)
				}
				twice := got * 2
				if twice != float64(int(twice)) {
					t.Errorf("Overall(%v,%v,%v,%v) = %v は0.5刻みではない", l, r, w, s, got)
				}
				mean := (l + r + w + s) / 4
				if diff := got - mean; diff > 0.25 || diff < -0.25 {
					t.Errorf("Overall(%v,%v,%v,%v) = %v は平均 %v から0.25以上離れている", l, r, w, s, got, mean)
				}
			}
		}
	}
}

func TestValidateInput(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"", true},
		{"7", true},
		{"6.5", true},
		{"9", true},
		{"9.", true},
		{".5", true},
		{"0", true},
		{"9.5", false},
		{"10", false},
		{"-1", false},
		{"abc", false},
		{"6,5", false},
		{".", false},
		{"1.2.3", false},
	}

	for _, tt := range tests {
		if got := ValidateInput(tt.in); got != tt.want {
			t.Errorf("ValidateInput(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestCalculate_Example(t *testing.T) {
	got, err := Calculate(Bands{Listening: "7", Reading: "6.5", Writing: "6", Speaking: "7"})
	if err != nil {
		t.Fatalf("Calculate がエラーを返した: %v", err)
	}
	if got == nil {
		t.Fatal("Calculate = nil, want 6.5")
	}
	if *got != 6.5 {
		t.Errorf("Calculate = %v, want 6.5", *got)
	}
}

func TestCalculate_AllEmptyReturnsNil(t *testing.T) {
	got, err := Calculate(Bands{})
	if err != nil {
		t.Fatalf("Calculate がエラーを返した: %v", err)
	}
	if got != nil {
		t.Errorf("Calculate = %v, want nil", *got)
	}
}

func TestCalculate_ZeroAndEmptyMixedReturnsNil(t *testing.T) {
	got, err := Calculate(Bands{Listening: "0", Reading: "", Writing: "0.0", Speaking: ""})
	if err != nil {
		t.Fatalf("Calculate がエラーを返した: %v", err)
	}
	if got != nil {
		t.Errorf("Calculate = %v, want nil", *got)
	}
}

func TestCalculate_RejectsOutOfRange(t *testing.T) {
	_, err := Calculate(Bands{Listening: "7", Reading: "12", Writing: "6", Speaking: "7"})
	if err == nil {
		t.Fatal("範囲外の入力でエラーが返されなかった")
	}

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("エラー型 = %T, want *model.APIError", err)
	}
	if apiErr.Code != model.ErrCodeInvalidBandScore {
		t.Errorf("エラーコード = %s, want %s", apiErr.Code, model.ErrCodeInvalidBandScore)
	}
}

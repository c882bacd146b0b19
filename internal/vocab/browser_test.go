package vocab

import (
	"fmt"
	"testing"

	"github.com/hitoshi/ieltsprep/internal/model"
)

func numberedDeck(n int) *Deck {
	words := make([]model.VocabWord, n)
	for i := range words {
		words[i] = model.VocabWord{Word: fmt.Sprintf("word%02d", i), Type: "Noun", Meaning: "m", Bangla: "b"}
	}
	return NewDeck(words)
}

func TestBrowser_NextWrapsAround(t *testing.T) {
	b := NewBrowser(NewDeck(testWords()))

	for i := 0; i < len(testWords()); i++ {
		b.Next()
	}
	if b.Index() != 0 {
		t.Errorf("一周後の位置 = %d, want 0", b.Index())
	}
}

func TestBrowser_PrevWrapsAround(t *testing.T) {
	b := NewBrowser(NewDeck(testWords()))

	b.Prev()
	if b.Index() != len(testWords())-1 {
		t.Errorf("先頭からPrev後の位置 = %d, want %d", b.Index(), len(testWords())-1)
	}
	if b.Current().Word != "Deteriorate" {
		t.Errorf("現在のカード = %s, want Deteriorate", b.Current().Word)
	}
}

func TestBrowser_NextSignalsEveryThirdIndex(t *testing.T) {
	b := NewBrowser(numberedDeck(12))

	var signalled []int
	for i := 0; i < 9; i++ {
		from := b.Index()
		if b.Next() {
			signalled = append(signalled, from)
		}
	}

	want := []int{2, 5, 8}
	if len(signalled) != len(want) {
		t.Fatalf("完了通知の回数 = %d (%v), want %d", len(signalled), signalled, len(want))
	}
	for i := range want {
		if signalled[i] != want[i] {
			t.Errorf("完了通知[%d] の位置 = %d, want %d", i, signalled[i], want[i])
		}
	}
}

func TestBrowser_PrevAndRandomNeverSignal(t *testing.T) {
	b := NewBrowser(numberedDeck(6))
	b.intn = func(n int) int { return 2 }

	b.Random()
	if b.Index() != 2 {
		t.Fatalf("Random 後の位置 = %d, want 2", b.Index())
	}
	b.Prev()
	if b.Index() != 1 {
		t.Errorf("Prev 後の位置 = %d, want 1", b.Index())
	}
}

func TestBrowser_RandomStaysInRange(t *testing.T) {
	b := NewBrowser(numberedDeck(5))

	for i := 0; i < 200; i++ {
		b.Random()
		if b.Index() < 0 || b.Index() >= 5 {
			t.Fatalf("Random 後の位置 = %d は範囲外", b.Index())
		}
	}
}

func TestBrowser_SearchResetsPosition(t *testing.T) {
	b := NewBrowser(NewDeck(testWords()))
	b.Next()
	b.Next()

	b.Search("ate")
	if b.Index() != 0 {
		t.Errorf("Search 後の位置 = %d, want 0", b.Index())
	}
	if b.Len() != 3 {
		t.Errorf("Search 後の件数 = %d, want 3", b.Len())
	}

	b.Next()
	b.Search("")
	if b.Index() != 0 {
		t.Errorf("検索語クリア後の位置 = %d, want 0", b.Index())
	}
	if b.Len() != len(testWords()) {
		t.Errorf("検索語クリア後の件数 = %d, want %d", b.Len(), len(testWords()))
	}
	if b.Current().Word != "Alleviate" {
		t.Errorf("検索語クリア後のカード = %s, want Alleviate", b.Current().Word)
	}
}

func TestBrowser_EmptyFilterIsNoop(t *testing.T) {
	b := NewBrowser(NewDeck(testWords()))
	b.Search("zzz")

	if b.Current() != nil {
		t.Errorf("空のフィルタ結果で Current = %v, want nil", b.Current())
	}
	if b.Next() {
		t.Error("空のフィルタ結果で Next が完了を通知した")
	}
	b.Prev()
	b.Random()
	if b.Index() != 0 {
		t.Errorf("空のフィルタ結果での位置 = %d, want 0", b.Index())
	}
}

package splists

import (
	"errors"
	"net/http"
	"testing"
)

func TestBackoffStrategyString(t *testing.T) {
	tests := map[BackoffStrategy]string{
		ExponentialJitter:   "exponential",
		DecorrelatedJitter:  "decorrelated",
		BackoffStrategy(42): "unknown",
	}
	for strategy, want := range tests {
		if got := strategy.String(); got != want {
			t.Errorf("Expected %q, got %q", want, got)
		}
	}
}

func TestDoerFunc(t *testing.T) {
	want := errors.New("called")
	var doer Doer = DoerFunc(func(*http.Request) (*http.Response, error) { return nil, want })

	req, _ := http.NewRequest(http.MethodGet, "https://example.com", nil)
	if _, err := doer.Do(req); err != want {
		t.Errorf("Expected DoerFunc to forward the call, got %v", err)
	}
}

func TestItemDecode(t *testing.T) {
	item := Item{Data: []byte(`{"Id":4,"Title":"x"}`), ETag: `"1"`}

	var v struct {
		ID int `json:"Id"`
	}
	if err := item.Decode(&v); err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if v.ID != 4 {
		t.Errorf("Expected Id=4, got %d", v.ID)
	}

	empty := Item{}
	if err := empty.Decode(&v); err == nil {
		t.Error("Expected an error decoding an empty payload")
	}
}

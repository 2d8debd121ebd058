package domain

import "testing"

func TestMakeListingKey(t *testing.T) {
	tests := []struct {
		title, stock string
		want         ListingKey
	}{
		{"Ram 1500 Laramie Sport 2022", "46037A", "ram-1500-laramie-sport-2022-46037a"},
		{"  Jeep Compass North 2021 ", "B200", "jeep-compass-north-2021-b200"},
		{"Dodge Grand Caravan SXT Premium Plus 2019", "45196a", "dodge-grand-caravan-sxt-premium-plus-2019-45196a"},
		{"Chevrolet Silverado 2500HD LT/Z71 4x4!", "X1", "chevrolet-silverado-2500hd-lt-z71-4x4-x1"},
		{"Épave --- bizarre", "s9", "pave-bizarre-s9"},
	}
	for _, tt := range tests {
		if got := MakeListingKey(tt.title, tt.stock); got != tt.want {
			t.Errorf("MakeListingKey(%q, %q) = %q, want %q", tt.title, tt.stock, got, tt.want)
		}
	}
}

func TestMakeListingKeyStable(t *testing.T) {
	a := MakeListingKey("Ram 1500 Laramie 2022", "46037A")
	b := MakeListingKey("Ram 1500 Laramie 2022", "46037a")
	if a != b {
		t.Errorf("key differs on stock case: %q vs %q", a, b)
	}
}

func TestMoneyString(t *testing.T) {
	tests := []struct {
		m    Money
		want string
	}{
		{0, "0 $"},
		{995, "995 $"},
		{24995, "24 995 $"},
		{124995, "124 995 $"},
		{1249950, "1 249 950 $"},
	}
	for _, tt := range tests {
		if got := tt.m.String(); got != tt.want {
			t.Errorf("Money(%d).String() = %q, want %q", int64(tt.m), got, tt.want)
		}
	}
}

func TestChangeEventRecord(t *testing.T) {
	before := &ListingRecord{Key: "a-1", Price: 100}
	after := &ListingRecord{Key: "a-1", Price: 90}

	if got := (ChangeEvent{Kind: EventSold, Before: before}).Record(); got != before {
		t.Error("SOLD event should act on Before")
	}
	if got := (ChangeEvent{Kind: EventPriceChanged, Before: before, After: after}).Record(); got != after {
		t.Error("PRICE_CHANGED event should act on After")
	}
	if got := (ChangeEvent{Kind: EventNew, After: after}).Record(); got != after {
		t.Error("NEW event should act on After")
	}
}

func TestSummarize(t *testing.T) {
	run := RunRecord{
		ID:    "r1",
		Stage: StageDone,
		Items: []RunItem{
			{Event: ChangeEvent{Kind: EventNew}, Publish: PublishOutcome{Status: PublishStatusPublished}},
			{Event: ChangeEvent{Kind: EventNew}, Publish: PublishOutcome{Status: PublishStatusFailed}, TextFallback: true},
			{Event: ChangeEvent{Kind: EventSold}, Publish: PublishOutcome{Status: PublishStatusSkipped}},
			{Event: ChangeEvent{Kind: EventPriceChanged}, Publish: PublishOutcome{Status: PublishStatusPublished}},
		},
	}
	s := run.Summarize()
	if s.New != 2 || s.Sold != 1 || s.PriceChanged != 1 {
		t.Errorf("kind counts = %d/%d/%d", s.New, s.Sold, s.PriceChanged)
	}
	if s.Published != 2 || s.PublishFails != 1 {
		t.Errorf("publish counts = %d/%d", s.Published, s.PublishFails)
	}
	if s.TextFallback != 1 {
		t.Errorf("fallback = %d", s.TextFallback)
	}
}

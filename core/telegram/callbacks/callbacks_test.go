package callbacks

import (
	"testing"

	tele "gopkg.in/telebot.v4"
)

func TestParseCallbackDataRaw(t *testing.T) {
	key, payload := ParseCallbackData(&tele.Callback{Data: "\fadm|approve:42"})
	if key != "adm" || payload != "approve:42" {
		t.Fatalf("got %q %q", key, payload)
	}
}

func TestParseCallbackDataMatched(t *testing.T) {
	key, payload := ParseCallbackData(&tele.Callback{Unique: "search", Data: "2"})
	if key != "search" || payload != "2" {
		t.Fatalf("got %q %q", key, payload)
	}
}

func TestParseCallbackDataNoPayload(t *testing.T) {
	key, payload := ParseCallbackData(&tele.Callback{Data: "\ftrend"})
	if key != "trend" || payload != "" {
		t.Fatalf("got %q %q", key, payload)
	}
}

func TestActionInt64(t *testing.T) {
	verb, id, err := ActionInt64("off:17")
	if err != nil || verb != "off" || id != 17 {
		t.Fatalf("got %q %d %v", verb, id, err)
	}
	if _, _, err := ActionInt64("all"); err == nil {
		t.Fatalf("expected error for payload without id")
	}
}

func TestIndex(t *testing.T) {
	if n, err := Index("3"); err != nil || n != 3 {
		t.Fatalf("got %d %v", n, err)
	}
	for _, bad := range []string{"-1", "x", ""} {
		if _, err := Index(bad); err == nil {
			t.Fatalf("Index(%q) accepted", bad)
		}
	}
}

package keyboard

import "testing"

func TestInlineButtonsRows(t *testing.T) {
	m := InlineButtonsRows(
		[]InlineBtn{{Text: "Dune (2021)", Unique: "search", Data: "0"}},
		nil,
		[]InlineBtn{{Text: "✅", Unique: "adm", Data: "approve:7"}, {Text: "❌", Unique: "adm", Data: "deny:7"}},
	)
	if len(m.InlineKeyboard) != 2 {
		t.Fatalf("rows = %d, want empty row dropped", len(m.InlineKeyboard))
	}
	if b := m.InlineKeyboard[0][0]; b.Unique != "search" || b.Data != "0" {
		t.Fatalf("button = %+v", b)
	}
	if b := m.InlineKeyboard[1][1]; b.Unique != "adm" || b.Data != "deny:7" {
		t.Fatalf("button = %+v", b)
	}
}

func TestInlineBtnFits(t *testing.T) {
	if !(InlineBtn{Unique: "adm", Data: "approve:123456789"}).Fits() {
		t.Fatalf("short payload should fit")
	}
	long := InlineBtn{Unique: "search", Data: string(make([]byte, 57))}
	if long.Fits() {
		t.Fatalf("65 byte payload should not fit")
	}
}

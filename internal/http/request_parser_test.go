package http

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func newParsedBody(t *testing.T, contentType, body string) *RequestBodyParser {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	r.Header.Set("Content-Type", contentType)
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return p
}

func TestRequestBodyParserJSON(t *testing.T) {
	p := newParsedBody(t, "application/json",
		`{"name":"Travel","amount":"12.50","year":2024,"roll_over":true}`)

	if !p.IsJSON() {
		t.Error("IsJSON() = false for JSON body")
	}
	if got := p.Get("name"); got != "Travel" {
		t.Errorf("Get(name) = %q", got)
	}
	if got := p.Get("amount"); got != "12.50" {
		t.Errorf("Get(amount) = %q", got)
	}
	if got := p.GetInt("year", 0); got != 2024 {
		t.Errorf("GetInt(year) = %d", got)
	}
	if !p.GetBool("roll_over") {
		t.Error("GetBool(roll_over) = false")
	}
	if got := p.Get("missing"); got != "" {
		t.Errorf("Get(missing) = %q", got)
	}
	if got := p.GetInt("missing", 7); got != 7 {
		t.Errorf("GetInt(missing) = %d, want default 7", got)
	}
}

func TestRequestBodyParserForm(t *testing.T) {
	p := newParsedBody(t, "application/x-www-form-urlencoded",
		"name=Travel&month=3")

	if p.IsJSON() {
		t.Error("IsJSON() = true for form body")
	}
	if got := p.Get("name"); got != "Travel" {
		t.Errorf("Get(name) = %q", got)
	}
	if got := p.GetInt("month", 0); got != 3 {
		t.Errorf("GetInt(month) = %d", got)
	}
}

func TestRequestBodyParserEmptyBody(t *testing.T) {
	p := newParsedBody(t, "application/json", "")

	if got := p.Get("anything"); got != "" {
		t.Errorf("Get on empty body = %q", got)
	}
}

func TestRequestBodyParserMalformedJSON(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"broken`))
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err == nil {
		t.Error("Parse() = nil for malformed JSON")
	}
	// Parse is idempotent: the stored error is returned again
	if err := p.Parse(); err == nil {
		t.Error("second Parse() = nil for malformed JSON")
	}
}

func TestRequestBodyParserSanitizes(t *testing.T) {
	// JSON carries the control character as \u0001 so it survives decoding
	// and reaches the sanitizer.
	p := newParsedBody(t, "application/json", `{"name":"  Tra\u0001vel  "}`)
	if got := p.Get("name"); got != "Travel" {
		t.Errorf("Get(name) = %q, want control chars and padding stripped", got)
	}

	p = newParsedBody(t, "application/x-www-form-urlencoded", "name=++Tra%01vel++")
	if got := p.Get("name"); got != "Travel" {
		t.Errorf("form Get(name) = %q, want control chars and padding stripped", got)
	}
}

func TestParseMonthParams(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantYear  int
		wantMonth int
		wantValid bool
	}{
		{"explicit", "year=2024&month=3", 2024, 3, true},
		{"month only invalid", "year=2024&month=13", 2024, 13, false},
		{"zero month", "year=2024&month=0", 2024, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, _ := url.ParseQuery(tt.query)
			p := ParseMonthParams(q)
			if p.Year != tt.wantYear || p.Month != tt.wantMonth {
				t.Errorf("ParseMonthParams = %+v", p)
			}
			if p.Valid() != tt.wantValid {
				t.Errorf("Valid() = %v, want %v", p.Valid(), tt.wantValid)
			}
		})
	}
}

func TestParseMonthParamsDefaults(t *testing.T) {
	p := ParseMonthParams(url.Values{})
	if !p.Valid() {
		t.Errorf("defaults not valid: %+v", p)
	}
	if p.Year < 2020 {
		t.Errorf("default year = %d", p.Year)
	}
}

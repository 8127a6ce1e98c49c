package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func newContext(target string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec)
}

func TestFromContext_Defaults(t *testing.T) {
	p := FromContext(newContext("/"))

	if p.Limit != DefaultLimit {
		t.Errorf("expected default limit %d, got %d", DefaultLimit, p.Limit)
	}
	if p.Offset != 0 {
		t.Errorf("expected default offset 0, got %d", p.Offset)
	}
}

func TestFromContext_CustomValues(t *testing.T) {
	p := FromContext(newContext("/?limit=25&offset=10"))

	if p.Limit != 25 {
		t.Errorf("expected limit 25, got %d", p.Limit)
	}
	if p.Offset != 10 {
		t.Errorf("expected offset 10, got %d", p.Offset)
	}
}

func TestFromContext_ClampsLimit(t *testing.T) {
	p := FromContext(newContext("/?limit=5000&offset=-3"))

	if p.Limit != MaxLimit {
		t.Errorf("expected limit clamped to %d, got %d", MaxLimit, p.Limit)
	}
	if p.Offset != 0 {
		t.Errorf("expected negative offset reset to 0, got %d", p.Offset)
	}
}

func TestNewResponse_HasMore(t *testing.T) {
	resp := NewResponse([]int{1, 2}, 5, 2, 0)
	if !resp.HasMore {
		t.Error("expected has_more when offset+limit < total")
	}

	resp = NewResponse([]int{5}, 5, 2, 4)
	if resp.HasMore {
		t.Error("expected no more results on the last page")
	}
}

func TestPage(t *testing.T) {
	items := []string{"a", "b", "c", "d", "e"}

	got := Page(items, Params{Limit: 2, Offset: 1})
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Errorf("unexpected page: %v", got)
	}

	got = Page(items, Params{Limit: 10, Offset: 3})
	if len(got) != 2 || got[1] != "e" {
		t.Errorf("unexpected tail page: %v", got)
	}

	got = Page(items, Params{Limit: 2, Offset: 9})
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil page, got %v", got)
	}
}

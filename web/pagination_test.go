package web

import (
	"errors"
	"fmt"
	"testing"
)

func TestPagination(t *testing.T) {

	tests := []struct {
		name           string
		form           *ListForm
		pageLen        int
		totalRecordsNo int
		nextURL        string
		previousURL    string
		window         [2]int
		err            error
	}{
		{
			name:           "valid next and previous pages",
			form:           &ListForm{Company: "usmf", Search: "contoso", Page: 2, Refresh: true},
			pageLen:        5,
			totalRecordsNo: 13,
			nextURL:        "?company=usmf&page=3&search=contoso",
			previousURL:    "?company=usmf&page=1&search=contoso",
			window:         [2]int{5, 10},
		},
		{
			name:           "single page",
			form:           &ListForm{Page: 1},
			pageLen:        5,
			totalRecordsNo: 5,
			window:         [2]int{0, 5},
		},
		{
			name:           "last page is short",
			form:           &ListForm{Search: "a b", Page: 3},
			pageLen:        5,
			totalRecordsNo: 13,
			previousURL:    "?page=2&search=a+b",
			window:         [2]int{10, 13},
		},
		{
			name:           "no records",
			form:           &ListForm{},
			pageLen:        5,
			totalRecordsNo: 0,
			window:         [2]int{0, 0},
		},
		{
			name:           "invalid page length",
			form:           &ListForm{Page: 1},
			pageLen:        -5,
			totalRecordsNo: 5,
			err:            ErrInvalidPageLen,
		},
		{
			name:           "invalid page number",
			form:           &ListForm{Page: 4},
			pageLen:        5,
			totalRecordsNo: 14,
			err:            ErrInvalidPageNo{4, 3},
		},
	}

	for ii, tt := range tests {
		t.Run(fmt.Sprintf("%d_%s", ii, tt.name), func(t *testing.T) {

			pg, err := NewPagination(tt.pageLen, tt.totalRecordsNo, tt.form.Page, tt.form)
			if err != nil {
				if !errors.Is(err, tt.err) {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if tt.err != nil {
				t.Fatalf("expected error: %v", tt.err)
			}

			if got, want := pg.NextURL(), tt.nextURL; got != want {
				t.Errorf("next url error:\ngot  %q\nwant %q", got, want)
			}
			if got, want := pg.PreviousURL(), tt.previousURL; got != want {
				t.Errorf("prev url error:\ngot  %q\nwant %q", got, want)
			}
			start, end := pg.Window(tt.totalRecordsNo)
			if got, want := [2]int{start, end}, tt.window; got != want {
				t.Errorf("window got %v want %v", got, want)
			}
		})
	}
}

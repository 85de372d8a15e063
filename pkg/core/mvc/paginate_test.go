package mvc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPage_Paginate(t *testing.T) {
	tests := []struct {
		name       string
		page       Page
		wantOffset int
		wantSize   int
	}{
		{name: "默认值", page: Page{}, wantOffset: 0, wantSize: 10},
		{name: "第三页", page: Page{PageNum: 3, Size: 20}, wantOffset: 40, wantSize: 20},
		{name: "负页码", page: Page{PageNum: -1, Size: 5}, wantOffset: 0, wantSize: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			offset, size := tt.page.Paginate()
			assert.Equal(t, tt.wantOffset, offset)
			assert.Equal(t, tt.wantSize, size)
		})
	}
}

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseFaceFilename(t *testing.T) {
	tests := []struct {
		file     string
		wantID   string
		wantName string
		wantOK   bool
	}{
		{"S001_Alice_Smith.jpg", "S001", "Alice Smith", true},
		{"S001_Alice_Smith_2.JPEG", "S001", "Alice Smith", true},
		{"E042_Bob.png", "E042", "Bob", true},
		{"E042_2.png", "E042", "2", true},
		{"notes.txt", "", "", false},
		{"S001.jpg", "", "", false},
		{"_Alice.jpg", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			id, name, ok := parseFaceFilename(tt.file)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantID, id)
			assert.Equal(t, tt.wantName, name)
		})
	}
}

package main

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/vanity-farm/internal/api/dto"
	"github.com/cuongbtq/vanity-farm/internal/client"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name         string
		args         []string
		wantErr      bool
		wantProgress string
	}{
		{name: "submit", args: []string{"-txid", "ABC"}},
		{name: "resume", args: []string{"-job-id", "j1", "-delivery-url", "/api/deliver/j1?token=t"}, wantProgress: "/api/progress/j1"},
		{name: "resume with explicit progress url", args: []string{"-job-id", "j1", "-delivery-url", "/d", "-progress-url", "/p"}, wantProgress: "/p"},
		{name: "nothing to do", args: nil, wantErr: true},
		{name: "both submit and resume", args: []string{"-txid", "ABC", "-job-id", "j1"}, wantErr: true},
		{name: "resume without delivery url", args: []string{"-job-id", "j1"}, wantErr: true},
		{name: "unknown flag", args: []string{"-bogus"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := parseFlags(tt.args, io.Discard)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantProgress, o.progressURL)
		})
	}
}

func TestPrintProgress(t *testing.T) {
	eta := 90.0
	inf := maxETASeconds * 2

	tests := []struct {
		name string
		resp dto.ProgressResponse
		want string
	}{
		{name: "with eta", resp: dto.ProgressResponse{Status: "paid", Attempts: 1234567, Rate: 2500, ETASeconds: &eta}, want: "  paid     1,234,567 attempts  2,500/s  eta 1m30s\n"},
		{name: "eta out of range", resp: dto.ProgressResponse{Status: "paid", Attempts: 10, Rate: 1, ETASeconds: &inf}, want: "  paid     10 attempts  1/s\n"},
		{name: "no eta", resp: dto.ProgressResponse{Status: "unknown"}, want: "  unknown  0 attempts  0/s\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			printProgress(&buf, &tt.resp)
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestPrintTransition(t *testing.T) {
	var buf bytes.Buffer
	printTransition(&buf, client.StatePolling, client.StateComplete)
	assert.Contains(t, buf.String(), "polling -> complete")
}

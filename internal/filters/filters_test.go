// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0
// no-cloc

package filters

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/staranto/dyncache/internal/attrs"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		delim   string
		want    []Filter
		wantErr bool
	}{
		{name: "empty"},
		{
			name: "mode",
			spec: "mode=itemwise",
			want: []Filter{{Key: "mode", Op: Equal, Target: "itemwise"}},
		},
		{
			name: "negated prefix",
			spec: "name!^ratio",
			want: []Filter{{Key: "name", Negate: true, Op: Prefix, Target: "ratio"}},
		},
		{
			name: "value field",
			spec: "value.X<10",
			want: []Filter{{Key: "value.X", Op: Less, Target: "10", number: 10, isNumber: true}},
		},
		{
			name: "byte size",
			spec: "bytes>1MB",
			want: []Filter{{Key: "bytes", Op: Greater, Target: "1MB", number: 1e6, isNumber: true}},
		},
		{
			name:  "delimiter override",
			spec:  "args@1|mode~COMPACT",
			delim: "|",
			want: []Filter{
				{Key: "args", Op: Contains, Target: "1", number: 1, isNumber: true},
				{Key: "mode", Op: Fold, Target: "COMPACT"},
			},
		},
		{
			name: "empty target",
			spec: "fingerprint=",
			want: []Filter{{Key: "fingerprint", Op: Equal}},
		},
		{name: "no operator", spec: "mode=compact,items", wantErr: true},
		{name: "no key", spec: "=compact", wantErr: true},
		{name: "bad regexp", spec: "name/(", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.delim != "" {
				t.Setenv(DelimEnv, tt.delim)
			}

			got, err := Parse(tt.spec)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			for i := range got {
				got[i].re = nil
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFilter_Match(t *testing.T) {
	tests := []struct {
		spec  string
		value string
		want  bool
	}{
		{"mode=itemwise", `"itemwise"`, true},
		{"mode!=itemwise", `"itemwise"`, false},
		{"mode~ITEMWISE", `"itemwise"`, true},
		{"name^ratio", `"ratio.dyncache"`, true},
		{"name@dync", `"ratio.dyncache"`, true},
		{`name/\.dyncache$`, `"ratio.dyncache"`, true},
		{"name>q", `"ratio"`, true},
		{"items=3", `3`, true},
		{"items>2.5", `3`, true},
		{"items<3", `3`, false},
		{"items^1", `12`, true},
		{"bytes>1KiB", `2048`, true},
		{"bytes<1KiB", `2048`, false},
		{"args@3", `[3, 2]`, true},
		{"args@4", `[3, 2]`, false},
		{"args!@4", `[3, 2]`, true},
		{"args>2", `[3, 2]`, true},
		{"args>3", `[3, 2]`, false},
		{"kwargs@factor", `{"factor": 2}`, true},
		{"kwargs!@factor", `{"factor": 2}`, false},
		{"kwargs=factor", `{"factor": 2}`, false},
		{"value=true", `true`, true},
		{"value=1", `null`, false},
		{"value!=1", `null`, false},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			parsed, err := Parse(tt.spec)
			require.NoError(t, err)
			require.Len(t, parsed, 1)
			assert.Equal(t, tt.want, parsed[0].Match(gjson.Parse(tt.value)))
		})
	}

	f, err := Parse("value=1")
	require.NoError(t, err)
	assert.False(t, f[0].Match(gjson.Result{}), "missing")
}

const entryRows = `[
	{"key": "k1", "args": [3, 2], "kwargs": {}, "value": {"X": 2, "Y": 30}},
	{"key": "k2", "args": [4, 2], "kwargs": {"factor": 2}, "value": {"X": 8, "Y": 1}},
	{"key": "k3", "args": [5, 1], "kwargs": {}, "value": null}
]`

var entryAttrs = attrs.AttrList{
	{Key: "key", OutputKey: "key", Include: true},
	{Key: "args", OutputKey: "args", Include: true},
	{Key: "kwargs", OutputKey: "kwargs", Include: true},
	{Key: "value.X", OutputKey: "x", Include: true},
}

func TestFilterDataset(t *testing.T) {
	tests := []struct {
		spec string
		want []string
	}{
		{"", []string{"k1", "k2", "k3"}},
		{"x<5", []string{"k1"}},
		{"x>1,key!=k2", []string{"k1"}},
		{"args@2", []string{"k1", "k2"}},
		{"kwargs@factor", []string{"k2"}},
		{"key!=k2", []string{"k1", "k3"}},
		{"missing=v", []string{"k1", "k2", "k3"}},
		{"key=k9", nil},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			rows, err := FilterDataset(gjson.Parse(entryRows), entryAttrs, tt.spec)
			require.NoError(t, err)

			var keys []string
			for _, row := range rows {
				keys = append(keys, row["key"].(string))
			}
			assert.Equal(t, tt.want, keys)
		})
	}

	rows, err := FilterDataset(gjson.Parse(entryRows), entryAttrs, "")
	require.NoError(t, err)
	assert.InDelta(t, 2.0, rows[0]["x"], 1e-9)
	assert.Nil(t, rows[2]["x"])

	_, err = FilterDataset(gjson.Parse(entryRows), entryAttrs, "x")
	assert.Error(t, err)
}

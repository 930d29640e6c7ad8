// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/AleutianAI/AleutianChatSync/pkg/config"
	"github.com/AleutianAI/AleutianChatSync/pkg/observability"
)

func TestTraceFlag(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"absent", nil, ""},
		{"bare", []string{"--trace"}, observability.ExporterStdout},
		{"otlp", []string{"--trace=otlp"}, observability.ExporterOTLP},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := newRootCmd()
			require.NoError(t, root.PersistentFlags().Parse(tt.args))
			got, err := root.PersistentFlags().GetString("trace")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAppInit_OTLPFromFlags(t *testing.T) {
	for _, key := range []string{config.EnvBaseURL, config.EnvToken, config.EnvLogLevel} {
		t.Setenv(key, "")
	}
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })

	a := &app{}
	flags := &rootFlags{
		configPath:   filepath.Join(t.TempDir(), "absent.yaml"),
		trace:        observability.ExporterOTLP,
		otlpEndpoint: "127.0.0.1:1",
	}
	require.NoError(t, a.init(context.Background(), flags))

	assert.Equal(t, observability.ExporterOTLP, a.cfg.Tracing.Exporter)
	assert.Equal(t, "127.0.0.1:1", a.cfg.Tracing.OTLPEndpoint)
	assert.True(t, a.cfg.Tracing.OTLPInsecure)
	assert.NoError(t, a.close(context.Background()))
}

func TestAppInit_RejectsUnknownExporter(t *testing.T) {
	for _, key := range []string{config.EnvBaseURL, config.EnvToken, config.EnvLogLevel} {
		t.Setenv(key, "")
	}

	a := &app{}
	flags := &rootFlags{
		configPath: filepath.Join(t.TempDir(), "absent.yaml"),
		trace:      "zipkin",
	}
	err := a.init(context.Background(), flags)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Exporter")
}
